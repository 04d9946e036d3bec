package sqlinline

const QInsertHistory = `--sql 0cbbbf10-bd48-44b6-982d-46ced552864a
insert into generation_history(
  id,
  user_id,
  job_id,
  model_id,
  params,
  price,
  charged,
  free,
  outcome,
  result_urls,
  error_kind,
  error_message,
  created_at,
  completed_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::text,
  coalesce($5::jsonb, '{}'::jsonb),
  $6::bigint,
  $7::bigint,
  $8::boolean,
  $9::text,
  coalesce($10::jsonb, '[]'::jsonb),
  nullif($11::text, ''),
  nullif($12::text, ''),
  $13::timestamptz,
  $14::timestamptz
)
on conflict do nothing;
`

const QListHistoryByUser = `--sql 176779d3-4266-440f-8c41-2d10a0d2115e
select
  id::text,
  user_id,
  job_id,
  model_id,
  params,
  price,
  charged,
  free,
  outcome,
  result_urls,
  coalesce(error_kind, ''),
  coalesce(error_message, ''),
  created_at,
  completed_at
from generation_history
where user_id = $1::text
order by completed_at desc
limit $2::int;
`
