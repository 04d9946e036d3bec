package sqlinline

const QSelectAccount = `--sql c0482d48-9e67-4db2-8ae2-3cd2e819f398
select user_id, blocked, role
from accounts
where user_id = $1::text
limit 1;
`

const QUpsertAccount = `--sql 67aa0228-7bb4-4c2d-bca9-924073b2dc29
insert into accounts(user_id, blocked, role, created_at)
values ($1::text, $2::boolean, $3::text, now())
on conflict (user_id) do update
  set blocked = excluded.blocked,
      role = excluded.role;
`

const QSelectFreeUsed = `--sql 82c4c354-9ddc-48d8-ac73-04322d551320
select used
from free_usage
where user_id = $1::text and model_id = $2::text;
`

const QIncrementFreeUsed = `--sql e66ffcd4-2a14-431c-b68e-529977718eed
insert into free_usage(user_id, model_id, used)
values ($1::text, $2::text, 1)
on conflict (user_id, model_id) do update
  set used = free_usage.used + 1;
`

const QSelectAdminSpend = `--sql ac8fa2d3-2164-4c47-b218-e4e0fca6f3ef
select spent
from admin_spend
where user_id = $1::text and period = $2::text;
`

const QAddAdminSpend = `--sql 92114b43-f48a-4395-b3ff-321fdc2ee9b0
insert into admin_spend(user_id, period, spent)
values ($1::text, $2::text, $3::bigint)
on conflict (user_id, period) do update
  set spent = admin_spend.spent + excluded.spent;
`
