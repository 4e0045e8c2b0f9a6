// Package pg bootstraps PostgreSQL access on pgx/v5.
//
// Connect opens a *pgxpool.Pool from Config (populated from PG_* environment
// variables) and retries with a linearly growing delay until the database
// answers a ping. Migrate applies goose migrations from an fs.FS, typically
// the embedded files of the migrations package, bridging the pool to
// database/sql through pgx/stdlib.
//
// DBTX lets stores accept either the pool or a pgx.Tx, and WithTx wraps the
// commit/rollback dance. The Is*Error helpers classify pgx and SQLSTATE errors
// so callers do not import pgconn directly.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
//		return err
//	}
package pg
