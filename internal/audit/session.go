package audit

import (
	"context"

	"github.com/m0rphlin/operetta/api/schemas"
)

// InstrumentSession wraps a browser session so every primitive action it
// performs lands in the action log. Read operations are not logged.
func InstrumentSession(sess schemas.BrowserSession, rec schemas.Recorder, sessionID, profileID, accountID string) schemas.BrowserSession {
	return &loggedSession{
		BrowserSession: sess,
		rec:            rec,
		sessionID:      sessionID,
		profileID:      profileID,
		accountID:      accountID,
	}
}

type loggedSession struct {
	schemas.BrowserSession
	rec       schemas.Recorder
	sessionID string
	profileID string
	accountID string
}

func (l *loggedSession) Navigate(ctx context.Context, url string) error {
	err := l.BrowserSession.Navigate(ctx, url)
	l.log(ctx, schemas.ActionNavigate, url, err)
	return err
}

func (l *loggedSession) Click(ctx context.Context, selector string) error {
	err := l.BrowserSession.Click(ctx, selector)
	l.log(ctx, schemas.ActionClick, selector, err)
	return err
}

func (l *loggedSession) Type(ctx context.Context, selector, text string) error {
	err := l.BrowserSession.Type(ctx, selector, text)
	// The typed text stays out of the log; it may be a password.
	l.log(ctx, schemas.ActionType, selector, err)
	return err
}

func (l *loggedSession) log(ctx context.Context, kind schemas.ActionLogKind, detail string, err error) {
	if err != nil {
		detail = detail + " (failed: " + err.Error() + ")"
	}
	l.rec.RecordAction(ctx, schemas.ActionLogEntry{
		SessionID: l.sessionID,
		ProfileID: l.profileID,
		AccountID: l.accountID,
		Kind:      kind,
		Detail:    detail,
	})
}
