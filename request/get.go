package request

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

func Get[T any](ctx context.Context, httpClient *http.Client, uri string) (T, error) {
	var result T

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return result, errors.Wrap(err, "failed to build request")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return result, errors.Wrap(err, "failed to fetch url")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, errors.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return result, errors.Wrap(err, "failed to read response body")
	}

	err = json.Unmarshal(body, &result)
	if err != nil {
		return result, errors.Wrap(err, "failed to unmarshal json")
	}

	return result, nil
}
