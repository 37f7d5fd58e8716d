package runner

import (
	"context"

	"github.com/tomatool/ketchup/internal/config"
	"github.com/tomatool/ketchup/internal/dbcheck"
	"github.com/tomatool/ketchup/internal/response"
)

// HTTPCaller performs the single request of a test unit
type HTTPCaller interface {
	Call(ctx context.Context, endpoint config.Endpoint) (*response.Response, error)
}

// DBChecker abstracts dbcheck.Checker for testing
type DBChecker interface {
	Snapshot(ctx context.Context, v *config.Validation) (dbcheck.Snapshot, error)
	CheckAll(ctx context.Context, tables []config.TableCheck, before dbcheck.Snapshot) bool
}

var _ DBChecker = (*dbcheck.Checker)(nil)
