package sqlinline

// QEnsureSchema creates the tables the engine relies on. It is idempotent.
const QEnsureSchema = `--sql 9925ad6c-4f98-4f95-9861-f56cfbca812e
create table if not exists balances (
  user_id text primary key,
  balance bigint not null default 0 check (balance >= 0),
  updated_at timestamptz not null default now()
);
create table if not exists accounts (
  user_id text primary key,
  blocked boolean not null default false,
  role text not null default 'user',
  created_at timestamptz not null default now()
);
create table if not exists free_usage (
  user_id text not null,
  model_id text not null,
  used int not null default 0,
  primary key (user_id, model_id)
);
create table if not exists admin_spend (
  user_id text not null,
  period text not null,
  spent bigint not null default 0,
  primary key (user_id, period)
);
create table if not exists generation_history (
  id uuid primary key,
  user_id text not null,
  job_id text not null unique,
  model_id text not null,
  params jsonb not null default '{}'::jsonb,
  price bigint not null,
  charged bigint not null,
  free boolean not null default false,
  outcome text not null,
  result_urls jsonb not null default '[]'::jsonb,
  error_kind text,
  error_message text,
  created_at timestamptz not null,
  completed_at timestamptz not null
);
create index if not exists generation_history_user_idx on generation_history(user_id, completed_at desc);
`
