//go:build !sqlite
// +build !sqlite

package runlog

import (
	"errors"

	logx "jobgate/pkg/logx"
)

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	_ = cfg
	_ = log
	return nil, errors.New("sqlite run log not built: build with -tags sqlite")
}
