/*
Package client is a Go client for the sessionsync HTTP API.

It is what the sessionsync CLI uses to talk to a running server:

	c, err := client.NewClient("localhost:8080", os.Getenv("SESSIONSYNC_API_TOKEN"))
	if err != nil {
		return err
	}
	result, err := c.CreateInstance(ctx, "tenant-42", "Sales")

Non-2xx responses come back as *APIError, which matches types.ErrNotFound,
types.ErrInvalidInput and reconciler.ErrCycleInProgress with errors.Is.
*/
package client
