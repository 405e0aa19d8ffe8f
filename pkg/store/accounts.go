package store

import (
	"context"
	"database/sql"

	"go.mau.fi/util/dbutil"

	"github.com/ingestlab/telecorpus/pkg/model"
)

const (
	selectAccountColumns = `id, phone, credentials_id, credentials_hash, session_blob, status,
		proxy_type, proxy_host, proxy_port, proxy_user, proxy_pass,
		messages_collected, errors_count, last_activity, flood_wait_until, last_error, autojoin_enabled`

	getAccountByIDQuery    = `SELECT ` + selectAccountColumns + ` FROM account WHERE id=$1`
	getAccountByPhoneQuery = `SELECT ` + selectAccountColumns + ` FROM account WHERE phone=$1`
	listAccountsQuery      = `SELECT ` + selectAccountColumns + ` FROM account ORDER BY id`

	insertAccountQuery = `
		INSERT INTO account (phone, credentials_id, credentials_hash, session_blob, status,
			proxy_type, proxy_host, proxy_port, proxy_user, proxy_pass)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + selectAccountColumns

	updateAccountStatusQuery = `
		UPDATE account SET status=$2, last_error=$3, flood_wait_until=$4, last_activity=now() WHERE id=$1
	`

	updateAccountSessionQuery = `UPDATE account SET session_blob=$2 WHERE id=$1`

	incrementAccountCountersQuery = `
		UPDATE account SET messages_collected = messages_collected + $2, errors_count = errors_count + $3, last_activity = now() WHERE id=$1
	`

	setAccountAutojoinEnabledQuery = `UPDATE account SET autojoin_enabled=$2 WHERE id=$1`

	listEnabledAccountsQuery = `SELECT ` + selectAccountColumns + ` FROM account WHERE autojoin_enabled=true ORDER BY id`

	deleteAccountQuery = `DELETE FROM account WHERE id=$1`
)

type AccountQuery struct {
	*dbutil.QueryHelper[*AccountRow]
}

type AccountRow struct {
	qh *dbutil.QueryHelper[*AccountRow]
	model.Account
}

var _ dbutil.DataStruct[*AccountRow] = (*AccountRow)(nil)

func newAccount(qh *dbutil.QueryHelper[*AccountRow]) *AccountRow {
	return &AccountRow{qh: qh}
}

func (a *AccountRow) Scan(row dbutil.Scannable) (*AccountRow, error) {
	var (
		proxyType                    sql.NullString
		proxyHost, proxyUser, proxyPass sql.NullString
		proxyPort                    sql.NullInt32
		lastActivity, floodWaitUntil sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.Phone, &a.CredentialsID, &a.CredentialsHash, &a.SessionBlob, &a.Status,
		&proxyType, &proxyHost, &proxyPort, &proxyUser, &proxyPass,
		&a.MessagesCollected, &a.ErrorsCount, &lastActivity, &floodWaitUntil, &a.LastError, &a.AutojoinEnabled,
	)
	if err != nil {
		return a, err
	}
	if proxyType.Valid {
		a.Proxy = &model.Proxy{
			Type: model.ProxyType(proxyType.String),
			Host: proxyHost.String,
			Port: int(proxyPort.Int32),
			User: proxyUser.String,
			Pass: proxyPass.String,
		}
	}
	a.LastActivity = lastActivity.Time
	a.FloodWaitUntil = floodWaitUntil.Time
	return a, nil
}

func (q *AccountQuery) GetByID(ctx context.Context, id int64) (*AccountRow, error) {
	return q.QueryOne(ctx, getAccountByIDQuery, id)
}

func (q *AccountQuery) GetByPhone(ctx context.Context, phone string) (*AccountRow, error) {
	row, err := q.QueryOne(ctx, getAccountByPhoneQuery, phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return row, err
}

func (q *AccountQuery) List(ctx context.Context) ([]*AccountRow, error) {
	return q.QueryMany(ctx, listAccountsQuery)
}

// ListEnabled returns the AutoJoiner's rotation candidate set (spec.md
// §4.K: "respecting enabled_accounts").
func (q *AccountQuery) ListEnabled(ctx context.Context) ([]*AccountRow, error) {
	return q.QueryMany(ctx, listEnabledAccountsQuery)
}

func (q *AccountQuery) SetAutojoinEnabled(ctx context.Context, id int64, enabled bool) error {
	return q.Exec(ctx, setAccountAutojoinEnabledQuery, id, enabled)
}

func (q *AccountQuery) Insert(ctx context.Context, a model.Account) (*AccountRow, error) {
	var proxyType, proxyHost, proxyUser, proxyPass any
	var proxyPort any
	if a.Proxy != nil {
		proxyType, proxyHost, proxyUser, proxyPass = a.Proxy.Type, a.Proxy.Host, a.Proxy.User, a.Proxy.Pass
		proxyPort = a.Proxy.Port
	}
	return q.QueryOne(ctx, insertAccountQuery,
		a.Phone, a.CredentialsID, a.CredentialsHash, a.SessionBlob, a.Status,
		proxyType, proxyHost, proxyPort, proxyUser, proxyPass,
	)
}

// SetStatus transitions an account's lifecycle state (spec.md §4.B), optionally
// recording a flood_wait_until deadline and the triggering error.
func (q *AccountQuery) SetStatus(ctx context.Context, id int64, status model.AccountStatus, lastError string, floodWaitUntil sql.NullTime) error {
	return q.Exec(ctx, updateAccountStatusQuery, id, status, lastError, floodWaitUntil)
}

// Delete implements the Command API's Accounts.delete: the Engine is
// expected to have already torn down the account's live session via
// pkg/session.Manager.Stop before calling this.
func (q *AccountQuery) Delete(ctx context.Context, id int64) error {
	return q.Exec(ctx, deleteAccountQuery, id)
}

func (q *AccountQuery) SaveSession(ctx context.Context, id int64, blob []byte) error {
	return q.Exec(ctx, updateAccountSessionQuery, id, blob)
}

// IncrementCounters applies the derived, best-effort messages_collected and
// errors_count updates (DESIGN.md's "eager counters" decision) rather than
// recomputing them from a COUNT(*) scan on every read.
func (q *AccountQuery) IncrementCounters(ctx context.Context, id int64, messages, errs int64) error {
	return q.Exec(ctx, incrementAccountCountersQuery, id, messages, errs)
}
