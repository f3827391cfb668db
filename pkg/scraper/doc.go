// Package scraper runs one pass over the merchant portal and leaves the
// refund report in the download directory.
//
// A run is strictly sequential:
//
//  1. compute the date window ending yesterday
//  2. clean the download directory, which must already exist
//  3. open a browser session
//  4. navigate to the report page for the window
//  5. log in with the emailed one-time code
//  6. dismiss the cookie consent banner if it is shown
//  7. trigger the CSV download and wait for the file
//
// The session is closed on every exit path. Any failure aborts the run and
// is returned as a typed error naming the step that failed.
//
// Usage:
//
//	downloads, _ := storage.NewManager(cfg.Download.Directory, log)
//	codes := mailbox.NewRetriever(cfg.Mailbox, log)
//	s := scraper.New(cfg, downloads, codes, log)
//	result, err := s.Run(ctx)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.ReportPath)
package scraper
