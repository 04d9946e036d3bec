package sqlinline

const QSelectBalance = `--sql 8382c553-07b5-448c-9d1a-5a531ee0797d
select balance
from balances
where user_id = $1::text;
`

const QAddBalance = `--sql ce1556d5-0009-48cd-abde-d68a72c05a91
insert into balances(user_id, balance, updated_at)
values ($1::text, $2::bigint, now())
on conflict (user_id) do update
  set balance = balances.balance + excluded.balance,
      updated_at = now()
returning balance;
`

// QSubtractBalance only matches when the balance covers the amount, so an
// empty result means insufficient funds.
const QSubtractBalance = `--sql 5babaa61-7f60-4730-9c80-0b3164471f5a
update balances
set balance = balance - $2::bigint,
    updated_at = now()
where user_id = $1::text
  and balance >= $2::bigint
returning balance;
`
