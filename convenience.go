package wafer

import "context"

// Get performs a one-shot GET using a throwaway Session, mirroring
// original_source's package-level wafer.get() convenience function.
// Callers making more than one request to the same host should build
// a Session directly instead, so cookies/fingerprint/rate-limiting
// state carries across calls.
func Get(ctx context.Context, target string, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "GET", target, nil, nil, opts)
}

func Post(ctx context.Context, target string, body []byte, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "POST", target, body, nil, opts)
}

func Put(ctx context.Context, target string, body []byte, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "PUT", target, body, nil, opts)
}

func Delete(ctx context.Context, target string, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "DELETE", target, nil, nil, opts)
}

func Head(ctx context.Context, target string, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "HEAD", target, nil, nil, opts)
}

func Options(ctx context.Context, target string, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "OPTIONS", target, nil, nil, opts)
}

func Patch(ctx context.Context, target string, body []byte, opts ...SessionOption) (*Response, error) {
	return oneShot(ctx, "PATCH", target, body, nil, opts)
}

func oneShot(ctx context.Context, method, target string, body []byte, headers [][2]string, opts []SessionOption) (*Response, error) {
	s, err := NewSession(opts...)
	if err != nil {
		return nil, err
	}
	return s.Request(ctx, method, target, body, headers)
}
