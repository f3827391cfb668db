// Package retry provides bounded retries with backoff for the steps of a
// scrape that can fail transiently: clicking controls that render late,
// and querying the mailbox before the code email has arrived.
//
//	cfg := retry.FromConfig(ctx, appCfg.Retry, log).Named("send-code")
//	err := retry.Do(func() error {
//		return page.Click(selector)
//	}, cfg)
//
// DefaultRetryIf retries only infrastructure and ui_sync errors from
// package errors. Credential submission is never wrapped in a retry.
package retry
