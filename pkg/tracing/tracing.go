package tracing

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	jaeger "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
)

type nopCloser struct {
}

func (nopCloser) Close() error { return nil }

// New registers Jaeger as the OpenTracing implementation when
// JAEGER_AGENT_HOST is set, and is a no-op otherwise.
func New(serviceName string) (io.Closer, error) {
	jaegerAgentHost := os.Getenv("JAEGER_AGENT_HOST")
	if jaegerAgentHost == "" {
		return nopCloser{}, nil
	}

	cfg := jaegercfg.Configuration{
		ServiceName: serviceName,
		Sampler: &jaegercfg.SamplerConfig{
			SamplingServerURL: fmt.Sprintf("http://%s:5778/sampling", jaegerAgentHost),
			Type:              jaeger.SamplerTypeConst,
			Param:             1,
		},
		Reporter: &jaegercfg.ReporterConfig{
			LocalAgentHostPort: fmt.Sprintf("%s:6831", jaegerAgentHost),
		},
	}

	closer, err := cfg.InitGlobalTracer(serviceName)
	if err != nil {
		return nil, errors.Wrap(err, "initialising jaeger tracer")
	}
	return closer, nil
}
