package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"nodegraph/internal/audit"
)

// Options configures a Driver (mirrors pkg/config's Storage section).
type Options struct {
	PreserveTransient  bool
	NowToleranceMS     int
	MaxLicenseDistance int
	BusyRetryAttempts  int
	BusyRetryBackoffMS int
}

func (o Options) withDefaults() Options {
	if o.BusyRetryAttempts <= 0 {
		o.BusyRetryAttempts = 5
	}
	if o.BusyRetryBackoffMS <= 0 {
		o.BusyRetryBackoffMS = 50
	}
	if o.MaxLicenseDistance <= 0 {
		o.MaxLicenseDistance = 2
	}
	return o
}

// Driver is the node-graph storage driver (C6): Store/DeleteNodes/
// GetNodeById1/GetNodesById1/FetchSingleNode/GetRootNode/BumpNodes/
// FreshenParentTrail, all implemented over a dbClient-abstracted
// database/sql handle.
type Driver struct {
	id      string // instance correlation id for structured logs
	db      *sql.DB
	client  dbClient
	log     *logrus.Logger
	options Options
	audit   *audit.Trail
}

// SetAuditTrail attaches an audit trail (C12); Store then emits one event
// per inserted id1, DeleteNodes one per deleted id1 and BumpNodes one per
// bump hash, each naming the operation and the affected id.
func (d *Driver) SetAuditTrail(t *audit.Trail) { d.audit = t }

func (d *Driver) logAudit(action string, meta map[string]string) {
	if d.audit == nil {
		return
	}
	if err := d.audit.Log(action, meta); err != nil {
		d.log.WithError(err).Warn("audit log write failed")
	}
}

// Open connects to the backend named by kind (sqlite|postgres), applies the
// schema, and returns a ready Driver.
func Open(kind DBKind, dsn string, log *logrus.Logger, opts Options) (*Driver, error) {
	if log == nil {
		log = logrus.New()
	}
	db, client, err := openDB(kind, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schemaSQL(kind)); err != nil {
		db.Close()
		return nil, err
	}
	id := uuid.New().String()
	log.WithFields(logrus.Fields{"driver": string(kind), "instance": id}).Info("storage driver opened")
	return &Driver{id: id, db: db, client: client, log: log, options: opts.withDefaults()}, nil
}

func (d *Driver) Close() error { return d.db.Close() }

// exec runs query (written with '?' placeholders) with the client's busy
// retry policy, rebinding placeholders for the active backend.
func (d *Driver) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	query = d.client.rebind(query)
	var res sql.Result
	err := d.retry(ctx, func() error {
		var execErr error
		res, execErr = d.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

func (d *Driver) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	query = d.client.rebind(query)
	return d.db.QueryRowContext(ctx, query, args...)
}

// dbTx wraps a single transaction for the batch operations (Store,
// DeleteNodes, BumpNodes) that §4.4/§5 require to be all-or-nothing.
type dbTx struct {
	t      *sql.Tx
	client dbClient
}

func (d *Driver) beginTx(ctx context.Context) (*dbTx, error) {
	t, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &dbTx{t: t, client: d.client}, nil
}

func (tx *dbTx) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return tx.t.ExecContext(ctx, tx.client.rebind(query), args...)
}

func (tx *dbTx) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return tx.t.QueryRowContext(ctx, tx.client.rebind(query), args...)
}

func (tx *dbTx) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return tx.t.QueryContext(ctx, tx.client.rebind(query), args...)
}

func (tx *dbTx) rollback() { _ = tx.t.Rollback() }

func (tx *dbTx) commit() error { return tx.t.Commit() }

func (d *Driver) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	query = d.client.rebind(query)
	var rows *sql.Rows
	err := d.retry(ctx, func() error {
		var queryErr error
		rows, queryErr = d.db.QueryContext(ctx, query, args...)
		return queryErr
	})
	return rows, err
}

// retry classifies and retries ErrBusy with linear backoff, per Options.
func (d *Driver) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	backoff := time.Duration(d.options.BusyRetryBackoffMS) * time.Millisecond
	for attempt := 0; attempt < d.options.BusyRetryAttempts; attempt++ {
		err := fn()
		classified := d.client.classify(err)
		if classified == nil {
			return nil
		}
		lastErr = classified
		if classified != ErrBusy {
			return classified
		}
		select {
		case <-ctx.Done():
			return ErrTimeout
		case <-time.After(backoff * time.Duration(attempt+1)):
		}
	}
	return lastErr
}

// nowToleranceMS returns the configured NowToleranceMS. No read path calls
// it: fetches apply no creation/expiry tolerance.
func (d *Driver) nowToleranceMS() int64 { return int64(d.options.NowToleranceMS) }
