package observability_test

import (
	"context"
	"testing"

	"github.com/boddenberg/account-manager-go/internal/infra/observability"
)

func TestInitTracer_EmptyEndpointIsNoop(t *testing.T) {
	shutdown, err := observability.InitTracer("", "account-manager-test")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("expected clean shutdown, got %v", err)
	}
}
