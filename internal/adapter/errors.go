package adapter

import "quern/pkg/qerrors"

func errAdapterNotFound(name string) error {
	return qerrors.Newf(qerrors.NotFound, "adapter %q is not registered", name)
}
