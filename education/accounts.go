package education

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// ACCOUNT LIFECYCLE
// =============================================================================

// NRICLength is the length of a normalized NRIC, e.g. "S1234567A".
const NRICLength = 9

// NormalizeNRIC trims and upper-cases an NRIC and checks its length.
func NormalizeNRIC(nric string) (string, error) {
	n := strings.ToUpper(strings.TrimSpace(nric))
	if len(n) != NRICLength {
		return "", fmt.Errorf("%q: %w", nric, generic.ErrInvalidNRIC)
	}
	return n, nil
}

// NewAccount holds the fields an administrator supplies when opening an
// account. Balance and status are always set by the engine.
type NewAccount struct {
	NRIC               string
	Name               string
	DateOfBirth        generic.Date
	Email              string
	Phone              string
	ResidentialAddress string
	MailingAddress     string
	InSchool           InSchoolStatus
	EducationLevel     EducationLevel
	ContinuingLearning ContinuingLearningStatus
}

// CreateAccount opens an active account with a zero balance. The NRIC must
// be unique among all accounts, closed ones included.
func (e *Engine) CreateAccount(ctx context.Context, sess Session, in NewAccount) (AccountHolder, error) {
	if err := requireStaff(sess); err != nil {
		return AccountHolder{}, err
	}
	nric, err := NormalizeNRIC(in.NRIC)
	if err != nil {
		return AccountHolder{}, err
	}
	existing, err := e.store.Accounts.GetByField(ctx, "nric", nric)
	if err != nil {
		return AccountHolder{}, err
	}
	if len(existing) > 0 {
		return AccountHolder{}, fmt.Errorf("%s: %w", nric, generic.ErrDuplicateNRIC)
	}

	inSchool := in.InSchool
	if inSchool == "" {
		inSchool = NotInSchool
	}
	acc, err := e.store.Accounts.Create(ctx, AccountHolder{
		NRIC:               nric,
		Name:               strings.TrimSpace(in.Name),
		DateOfBirth:        in.DateOfBirth,
		Email:              in.Email,
		Phone:              in.Phone,
		ResidentialAddress: in.ResidentialAddress,
		MailingAddress:     in.MailingAddress,
		Balance:            decimal.Zero,
		Status:             AccountActive,
		InSchool:           inSchool,
		EducationLevel:     in.EducationLevel,
		ContinuingLearning: in.ContinuingLearning,
	})
	if err != nil {
		return AccountHolder{}, err
	}
	log.Info().Str("account_id", acc.ID).Str("actor", sess.ActorID).Msg("account created")
	return acc, nil
}

// profileFields lists the fields UpdateAccount may change. Account holders
// may only change their contact details.
var profileFields = map[string]bool{
	"name":               true,
	"email":              true,
	"phone":              true,
	"residentialAddress": true,
	"mailingAddress":     true,
	"dateOfBirth":        true,
	"inSchool":           true,
	"educationLevel":     true,
	"continuingLearning": true,
	"status":             true,
}

var contactFields = map[string]bool{
	"email":              true,
	"phone":              true,
	"residentialAddress": true,
	"mailingAddress":     true,
}

// UpdateAccount patches profile fields. Balance, NRIC and closure are not
// editable here; closing goes through CloseAccount.
func (e *Engine) UpdateAccount(ctx context.Context, sess Session, accountID string, patch generic.Patch) (AccountHolder, error) {
	if err := requireAccess(sess, accountID); err != nil {
		return AccountHolder{}, err
	}
	allowed := profileFields
	if !sess.IsStaff() {
		allowed = contactFields
	}
	for field, v := range patch {
		if !allowed[field] {
			return AccountHolder{}, fmt.Errorf("field %q cannot be updated: %w", field, generic.ErrForbidden)
		}
		if field == "status" && AccountStatus(fmt.Sprint(v)) == AccountClosed {
			return AccountHolder{}, fmt.Errorf("use account closure to close %s: %w", accountID, generic.ErrForbidden)
		}
	}
	if _, err := e.store.account(ctx, accountID); err != nil {
		return AccountHolder{}, err
	}
	if err := e.store.Accounts.Update(ctx, accountID, patch); err != nil {
		return AccountHolder{}, err
	}
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return AccountHolder{}, err
	}
	return *acc, nil
}

// CloseAccount marks the account closed. The balance is left as it is and
// the ledger keeps every transaction.
func (e *Engine) CloseAccount(ctx context.Context, sess Session, accountID string) (AccountHolder, error) {
	if err := requireStaff(sess); err != nil {
		return AccountHolder{}, err
	}
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return AccountHolder{}, err
	}
	if acc.Status == AccountClosed {
		return *acc, nil
	}
	closedAt := e.now().UTC()
	if err := e.store.Accounts.Update(ctx, accountID, generic.Patch{
		"status":   AccountClosed,
		"closedAt": closedAt,
	}); err != nil {
		return AccountHolder{}, err
	}
	acc.Status = AccountClosed
	acc.ClosedAt = &closedAt
	log.Info().Str("account_id", accountID).Str("actor", sess.ActorID).Msg("account closed")
	return *acc, nil
}

// Account returns one account if the session may see it.
func (e *Engine) Account(ctx context.Context, sess Session, accountID string) (AccountHolder, error) {
	if err := requireAccess(sess, accountID); err != nil {
		return AccountHolder{}, err
	}
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return AccountHolder{}, err
	}
	return *acc, nil
}

// =============================================================================
// NRIC REGISTRY
// =============================================================================

// LookupNRIC returns the registry entry used to pre-fill a new account.
func (e *Engine) LookupNRIC(ctx context.Context, nric string) (NricRecord, error) {
	n, err := NormalizeNRIC(nric)
	if err != nil {
		return NricRecord{}, err
	}
	records, err := e.store.Nric.GetByField(ctx, "nric", n)
	if err != nil {
		return NricRecord{}, err
	}
	if len(records) == 0 {
		return NricRecord{}, fmt.Errorf("nric %s: %w", n, generic.ErrNotFound)
	}
	return records[0], nil
}

// =============================================================================
// STATEMENTS
// =============================================================================

// AccountStatement is the balance, the period's aggregates and the
// reconciliation of the whole ledger against the balance.
type AccountStatement struct {
	Account        AccountHolder          `json:"account"`
	Period         string                 `json:"period"`
	Summary        generic.Statement      `json:"summary"`
	Reconciliation generic.Reconciliation `json:"reconciliation"`
	Transactions   []generic.Transaction  `json:"transactions"`
}

// Statement builds the account statement for a period. Accounts open with
// a zero balance, so the full ledger must sum to the current balance.
func (e *Engine) Statement(ctx context.Context, sess Session, accountID string, period generic.Period) (AccountStatement, error) {
	if err := requireAccess(sess, accountID); err != nil {
		return AccountStatement{}, err
	}
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return AccountStatement{}, err
	}
	txs, err := e.store.Ledger.ForAccount(ctx, accountID)
	if err != nil {
		return AccountStatement{}, err
	}
	rec, err := e.store.Ledger.Reconcile(ctx, accountID, decimal.Zero, acc.Balance)
	if err != nil {
		return AccountStatement{}, err
	}
	if !rec.Balanced {
		log.Warn().
			Str("account_id", accountID).
			Str("drift", rec.Drift.String()).
			Msg("ledger does not match balance")
	}

	var inPeriod []generic.Transaction
	for _, tx := range txs {
		if period.Contains(generic.DateOf(tx.CreatedAt)) {
			inPeriod = append(inPeriod, tx)
		}
	}
	return AccountStatement{
		Account:        *acc,
		Period:         period.String(),
		Summary:        generic.BuildStatement(accountID, period, txs),
		Reconciliation: rec,
		Transactions:   inPeriod,
	}, nil
}
