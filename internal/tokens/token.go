package tokens

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token is an ERC-20 token on a specific chain
type Token struct {
	ChainID  uint64         `json:"chainId"`
	Address  common.Address `json:"address"`
	Decimals uint8          `json:"decimals"`
	Symbol   string         `json:"symbol,omitempty"`
	Name     string         `json:"name,omitempty"`
}

// NewToken creates a Token
func NewToken(chainID uint64, address common.Address, decimals uint8, symbol, name string) Token {
	return Token{
		ChainID:  chainID,
		Address:  address,
		Decimals: decimals,
		Symbol:   symbol,
		Name:     name,
	}
}

// Native returns the chain's native currency. It has no contract address.
func Native(chainID uint64) Token {
	return Token{ChainID: chainID, Decimals: 18, Symbol: "ETH", Name: "Ether"}
}

// Equals compares chain and address
func (t Token) Equals(other Token) bool {
	return t.ChainID == other.ChainID && t.Address == other.Address
}

// SortsBefore returns true if t's address is lower than other's
func (t Token) SortsBefore(other Token) bool {
	return bytes.Compare(t.Address.Bytes(), other.Address.Bytes()) < 0
}

// Amount is a raw token quantity
type Amount struct {
	Token Token    `json:"token"`
	Raw   *big.Int `json:"raw"`
}

// NewAmount creates an Amount
func NewAmount(token Token, raw *big.Int) Amount {
	return Amount{Token: token, Raw: new(big.Int).Set(raw)}
}

// Decimal returns the amount scaled by the token decimals
func (a Amount) Decimal() decimal.Decimal {
	if a.Raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(a.Raw, -int32(a.Token.Decimals))
}

// String returns the scaled amount, e.g. "1.5"
func (a Amount) String() string {
	return a.Decimal().String()
}

// LessThan compares raw quantities
func (a Amount) LessThan(other Amount) bool {
	return a.raw().Cmp(other.raw()) < 0
}

func (a Amount) raw() *big.Int {
	if a.Raw == nil {
		return new(big.Int)
	}
	return a.Raw
}
