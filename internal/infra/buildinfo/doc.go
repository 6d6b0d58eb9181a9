// Package buildinfo exposes the version stamped into the farmsync binary.
//
//	go build -ldflags "-X github.com/yndnr/farmsync-go/internal/infra/buildinfo.Version=v0.4.0 \
//	  -X github.com/yndnr/farmsync-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// The same version is sent to the remote API in the User-Agent header so the
// operator can tell which field devices still run old builds.
package buildinfo
