package crawlexec

import (
	"context"
	"io"
	"net/http"
)

// httpRobotsFetcher retrieves a robots.txt body over plain HTTP,
// implementing crawlfrontier.RobotsFetcher. A fetch failure (including
// a 404) is reported to the caller as an error; crawlfrontier treats
// that as "no policy" rather than a rejection.
type httpRobotsFetcher struct {
	client *http.Client
}

func newHTTPRobotsFetcher(client *http.Client) *httpRobotsFetcher {
	return &httpRobotsFetcher{client: client}
}

func (f *httpRobotsFetcher) FetchRobots(ctx context.Context, origin string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errNoRobots
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

var errNoRobots = errRobotsUnavailable("robots.txt not available")

type errRobotsUnavailable string

func (e errRobotsUnavailable) Error() string { return string(e) }
