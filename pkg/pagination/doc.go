// Package pagination fetches a whole Socrata dataset by walking
// $offset/$limit pages until the server returns a short page.
//
// Example usage:
//
//	c, _ := client.New(client.DefaultConfig("socrata-ingest/0.1.0"))
//	fetcher := pagination.NewFetcher(c, pagination.DefaultConfig())
//	tbl, err := fetcher.Fetch(ctx, pagination.DatasetRequest{
//		BaseURL:  "https://data.cityofchicago.org/resource",
//		Endpoint: "ijzp-q8t2.json",
//		PageSize: 100,
//		Timeout:  10 * time.Second,
//		Delay:    1500 * time.Millisecond,
//	})
//
// The fetcher:
//   - Requests pages strictly one after another, never overlapping
//   - Advances the offset by the number of rows actually received
//   - Stops on the first page shorter than the page size
//   - Sleeps the request delay between pages on an injectable clock
//   - Leaves per-page retries to the page client, which never restarts
//     from offset 0
//   - Fails with client.ErrPageLimit when MaxPages ends the walk on a
//     full page
//   - Returns no table on failure unless AllowPartial is set
package pagination
