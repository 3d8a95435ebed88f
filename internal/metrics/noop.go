package metrics

type NoopMetrics struct{}

func (n NoopMetrics) RecordInfo(version string) {}

func (n NoopMetrics) RecordUp() {}

func (n NoopMetrics) RecordResolve(calls int, unique int) {}

func (n NoopMetrics) RecordFetch(calls int) (onDone func(err error)) {
	return func(err error) {}
}

func (n NoopMetrics) RecordHeight(height uint64) {}

func (n NoopMetrics) RecordUpstreamRequest(upstream string, method string) (onDone func(err error)) {
	return func(err error) {}
}

func (n NoopMetrics) RecordServerRequest(method string) (onDone func(err error)) {
	return func(err error) {}
}

var _ Metricer = NoopMetrics{}
