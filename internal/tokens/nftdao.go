package tokens

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"multicallgofer/internal/optional"
)

// NFTDao reads the custody contract that bridges NFTs in and out of the chain
type NFTDao struct {
	caller  Caller
	address common.Address
}

// NewNFTDao creates a reader for the custody contract at address
func NewNFTDao(caller Caller, address common.Address) *NFTDao {
	return &NFTDao{caller: caller, address: address}
}

// Admin reads the address operating the contract
func (d *NFTDao) Admin(ctx context.Context) (optional.Value[common.Address], error) {
	return readAddress(ctx, d.caller, d.address, AdminSignature)
}

// Owner reads the address owning the contract
func (d *NFTDao) Owner(ctx context.Context) (optional.Value[common.Address], error) {
	return readAddress(ctx, d.caller, d.address, OwnerSignature)
}

// ERC721 returns a reader for an NFT collection held through the same pipeline
func (d *NFTDao) ERC721(address common.Address) *ERC721 {
	return NewERC721(d.caller, address)
}
