package sqlinline

const QCreateUsageEvents = `--sql 3f1c6b0e-5d2a-4f7e-9b1c-8a4d2e6f0b13
create table if not exists usage_events (
  id uuid primary key default gen_random_uuid(),
  session_id text not null,
  action text not null,
  success boolean not null,
  error_kind text not null default '',
  latency_ms int not null,
  country text not null default '',
  properties jsonb not null default '{}'::jsonb,
  created_at timestamptz not null default now()
);
`

const QInsertUsageEvent = `--sql e40f651c-a8b3-44c7-a911-bb8a0ed5f6ef
insert into usage_events(id, session_id, action, success, error_kind, latency_ms, country, created_at, properties)
values (gen_random_uuid(), $1::text, $2::text, $3::boolean, $4::text, $5::int, $6::text, now(), coalesce($7::jsonb, '{}'::jsonb));
`
