package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"quern/internal/adapter/proxysink"
	"quern/internal/statefile"
	"quern/pkg/qerrors"
)

// StartProxy spawns the mitmproxy addon subprocess and registers it with
// the supervisor, handling the `POST /api/v1/proxy/start` request. It is a
// no-op error (PreconditionFailed) if the proxy is already running. The
// adapter is launched against the daemon's own root context, not ctx (which
// may be an HTTP request context that outlives nothing past the response),
// so the subprocess survives the request that started it.
func (d *Daemon) StartProxy(ctx context.Context) error {
	d.mu.Lock()
	if d.proxyAdapter != nil {
		d.mu.Unlock()
		return qerrors.New(qerrors.PreconditionFailed, "proxy is already running")
	}
	rootCtx := d.rootCtx
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	d.mu.Unlock()

	secret, err := generateSecret()
	if err != nil {
		return qerrors.Wrap(qerrors.Internal, err, "failed to generate proxy secret")
	}
	controlPath, err := statefile.WriteProxyControl(d.Home, secret)
	if err != nil {
		return qerrors.Wrap(qerrors.Internal, err, "failed to write proxy control file")
	}

	a := proxysink.New(d.Config.Proxy.AddonScript, d.Config.Proxy.Port, controlPath, d.Log)
	if err := d.Supervisor.StartOne(rootCtx, a); err != nil {
		return qerrors.Wrap(qerrors.SubprocessFailed, err, "failed to start proxy addon")
	}

	d.mu.Lock()
	d.proxyAdapter = a
	d.ProxySecret = secret
	d.mu.Unlock()
	return nil
}

// StopProxy stops the addon subprocess and removes the control file,
// handling `POST /api/v1/proxy/stop`. Stopping an already-stopped proxy is
// not an error.
func (d *Daemon) StopProxy(ctx context.Context) error {
	d.mu.Lock()
	a := d.proxyAdapter
	d.proxyAdapter = nil
	d.mu.Unlock()
	if a == nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, proxyKillGrace+time.Second)
	defer cancel()
	if err := d.Supervisor.StopOne(stopCtx, a.Name()); err != nil {
		d.Log.WithError(err).Warn("proxy stop error")
	}
	return statefile.RemoveProxyControl(d.Home)
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
