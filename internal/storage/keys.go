package storage

import (
	"net/url"
	"strings"

	"github.com/yndnr/farmsync-go/internal/core/domain"
)

// Key layout:
//
//	t/{tenant}/p                        partition marker
//	t/{tenant}/o/{owner}/r/{type}/{id}  LocalRecord
//	t/{tenant}/o/{owner}/m              SyncMetadata
//	t/{tenant}/o/{owner}/l              device time the last sync run finished
//	t/{tenant}/c/{mobile}               CachedCredential
//	d/last-identity                     pointer to the last cached credential
//	d/session                           persisted Session
//
// Every segment is path-escaped so no identifier can reach into a
// neighbouring partition.

var (
	lastIdentityKey = []byte("d/last-identity")
	sessionKey      = []byte("d/session")
)

func seg(s string) string {
	return url.PathEscape(s)
}

func tenantPrefix(tenant string) []byte {
	return []byte("t/" + seg(tenant) + "/")
}

func partitionMarkerKey(tenant string) []byte {
	return []byte("t/" + seg(tenant) + "/p")
}

func ownerPrefix(tenant, owner string) []byte {
	return []byte("t/" + seg(tenant) + "/o/" + seg(owner) + "/")
}

func recordPrefix(tenant, owner string, t domain.EntityType) []byte {
	return append(ownerPrefix(tenant, owner), "r/"+seg(string(t))+"/"...)
}

func recordKey(tenant, owner string, t domain.EntityType, id string) []byte {
	return append(recordPrefix(tenant, owner, t), seg(id)...)
}

func metadataKey(tenant, owner string) []byte {
	return append(ownerPrefix(tenant, owner), 'm')
}

func lastRunKey(tenant, owner string) []byte {
	return append(ownerPrefix(tenant, owner), 'l')
}

func credentialPrefix(tenant string) []byte {
	return []byte("t/" + seg(tenant) + "/c/")
}

func credentialKey(tenant, mobile string) []byte {
	return append(credentialPrefix(tenant), seg(mobile)...)
}

// partitionID names the single-writer queue of a (tenant, owner) partition.
// Device-level entries use the empty owner.
func partitionID(tenant, owner string) string {
	return strings.Join([]string{seg(tenant), seg(owner)}, "/")
}
