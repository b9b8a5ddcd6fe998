package fetcher

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// MaxJSONBody bounds how many bytes ReadJSON consumes.
const MaxJSONBody = 32 << 20

// ReadJSON decodes exactly one JSON value from r.
func ReadJSON[T any](r io.Reader) (*T, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxJSONBody))
	v := new(T)
	if err := dec.Decode(v); err != nil {
		return nil, eris.Wrap(err, "fetcher: decode json")
	}
	if dec.More() {
		return nil, eris.New("fetcher: trailing data after json value")
	}
	return v, nil
}

// GetJSON downloads rawURL and decodes the body into a T.
func GetJSON[T any](ctx context.Context, f Fetcher, rawURL string) (*T, error) {
	body, err := f.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	v, err := ReadJSON[T](body)
	return v, eris.Wrapf(err, "fetcher: get %s", redact(rawURL))
}
