// Package proxy forwards a request to a resolved backend and relays the
// response.
//
// The forwarder preserves the method, body and end-to-end headers, rewrites
// only the path, and bounds each forward with a timeout. Backend responses of
// any status are relayed as-is; only transport failures come back as a
// *ForwardError, classified so the caller can map them to a status code:
//
//	res, err := fwd.Forward(w, r, proxy.Target{Service: "orchestrator", BaseURL: base, Path: "/widgets"})
//	if errors.Is(err, proxy.ErrBackendTimeout) {
//	    // nothing was written to w yet
//	}
package proxy
