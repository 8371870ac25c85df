package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/couchcryptid/weather-ingest/internal/domain"
)

// ErrStore wraps every error returned by this package.
var ErrStore = errors.New("store")

var errNoTx = fmt.Errorf("%w: no open transaction", ErrStore)

// IsConnectionLost reports whether err means the session can no longer be
// used, as opposed to a single statement failing.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrConnectionLost) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08: connection exception. 57P01..57P03: server shutting down.
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1053, 1077, 1078, 1079, 1080, 1152, 1153, 1154, 1155, 1156, 1157, 1158, 1159, 1160, 1161, 1927:
			return true
		}
		return false
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// wrap tags err with ErrStore and, for connection failures, domain.ErrConnectionLost.
func wrap(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
	}
	if IsConnectionLost(err) {
		return fmt.Errorf("%w: %s: %w: %w", ErrStore, op, domain.ErrConnectionLost, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
