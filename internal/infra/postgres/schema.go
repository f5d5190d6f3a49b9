package postgres

import "context"

const schema = `
CREATE TABLE IF NOT EXISTS account_user (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT        NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS account (
	id              BIGSERIAL PRIMARY KEY,
	account_number  VARCHAR(32) NOT NULL UNIQUE,
	user_id         BIGINT      NOT NULL REFERENCES account_user (id),
	account_status  VARCHAR(20) NOT NULL,
	balance         BIGINT      NOT NULL DEFAULT 0,
	registered_at   TIMESTAMPTZ NOT NULL,
	unregistered_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_account_user_id ON account (user_id);
`

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.write(ctx, "migrate", func(q querier) error {
		_, err := q.Exec(ctx, schema)
		return err
	})
}
