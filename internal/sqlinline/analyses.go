package sqlinline

const QCreateAnalysesTable = `--sql 618ff9f7-f479-48bc-9e51-a34277070857
create table if not exists analyses (
    id             uuid primary key,
    canvas_id      text not null,
    image_url      text not null,
    status         text not null default 'queued',
    description    text not null default '',
    refined_prompt text not null default '',
    failed_stage   text not null default '',
    error_message  text not null default '',
    created_at     timestamptz not null default now(),
    updated_at     timestamptz not null default now()
);
`

const QCreateAnalysesIndex = `--sql ce787081-32c9-4047-912f-3a6187ba4f99
create index if not exists analyses_status_created_idx on analyses (status, created_at);
`

const QInsertAnalysis = `--sql 995b74bc-9551-4b3e-907d-a466855ce0fc
insert into analyses (id, canvas_id, image_url, status)
values ($1::uuid, $2::text, $3::text, $4::text)
returning created_at, updated_at;
`

const QGetAnalysis = `--sql 8211f15f-1669-47b2-9ebc-c9bc74f923df
select id::text, canvas_id, image_url, status, description, refined_prompt,
       failed_stage, error_message, created_at, updated_at
from analyses
where id = $1::uuid;
`

const QListAnalysesByCanvas = `--sql 30e5f9ae-a3f7-43c7-8f08-b33fca6a2ba7
select id::text, canvas_id, image_url, status, description, refined_prompt,
       failed_stage, error_message, created_at, updated_at
from analyses
where canvas_id = $1::text
order by created_at desc
limit $2::int;
`

const QClaimNextAnalysis = `--sql 52f77323-dd7b-442b-9d18-6c5b29a7260a
with next_analysis as (
    select id
    from analyses
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
)
update analyses a
set status = 'running', updated_at = now()
from next_analysis n
where a.id = n.id
returning a.id::text, a.canvas_id, a.image_url, a.status, a.description, a.refined_prompt,
          a.failed_stage, a.error_message, a.created_at, a.updated_at;
`

const QMarkAnalysisRunning = `--sql a0f04f64-7fda-4957-92d8-011cbc5d90cc
update analyses
set status = 'running', updated_at = now()
where id = $1::uuid and status in ('queued', 'running');
`

const QMarkAnalysisSucceeded = `--sql 807500b3-6df1-4d13-9ee2-16a4b1e1fb8e
update analyses
set status = 'succeeded',
    description = $2::text,
    refined_prompt = $3::text,
    failed_stage = '',
    error_message = '',
    updated_at = now()
where id = $1::uuid;
`

const QMarkAnalysisFailed = `--sql 95a403bb-91ae-4653-8543-c1049f96ab1d
update analyses
set status = 'failed',
    failed_stage = $2::text,
    error_message = $3::text,
    updated_at = now()
where id = $1::uuid;
`

const QRequeueAnalysis = `--sql a6493fce-281c-4b17-9679-d57921cd33bd
update analyses
set status = 'queued', updated_at = now()
where id = $1::uuid and status = 'running';
`
