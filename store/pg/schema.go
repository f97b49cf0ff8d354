package pg

import (
	"context"
	"database/sql"
)

// Schema is the DDL for the credential store tables. Deployments with
// their own migration tooling can apply it there instead of calling
// EnsureSchema.
const Schema = `
create table if not exists subjects (
	id            text primary key,
	identifier    text not null unique,
	password_hash text not null,
	role_id       text,
	active        boolean not null default true,
	verified      boolean not null default false,
	last_login_at timestamptz,
	created_at    timestamptz not null default now()
);

create table if not exists roles (
	id         text primary key,
	name       text not null unique,
	created_at timestamptz not null default now(),
	updated_at timestamptz not null default now()
);

create table if not exists permissions (
	id       text primary key,
	name     text not null unique,
	resource text not null,
	action   text not null
);

create table if not exists role_permissions (
	role_id       text not null references roles(id),
	permission_id text not null references permissions(id),
	primary key (role_id, permission_id)
);

create table if not exists refresh_tokens (
	id         text primary key,
	lineage_id text not null,
	subject_id text not null references subjects(id),
	token_hash text not null unique,
	parent_id  text,
	revoked    boolean not null default false,
	expires_at timestamptz not null,
	created_at timestamptz not null default now()
);

create index if not exists refresh_tokens_lineage_idx on refresh_tokens (lineage_id);
create index if not exists refresh_tokens_subject_idx on refresh_tokens (subject_id);
`

// EnsureSchema applies the store DDL. Idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
