// Package namespace derives the Redis keys used by the tag cache.
//
// Layout:
//
//	cache:<tenant>:<key>        entry value
//	cache:<tenant>:<key>:tags   forward index (tags currently applied to key)
//	tag:<tenant>:<tag>          reverse index (candidate entry keys for tag)
//
// The tenant segment never contains ':' and an escaped key never ends in
// ":tags", so no two distinct (tenant, key) pairs map to the same Redis key and
// an entry can never alias a forward index.
package namespace

import "strings"

const (
	entryPrefix = "cache:"
	tagPrefix   = "tag:"
	tagsSuffix  = ":tags"
)

var (
	tenantEscaper = strings.NewReplacer("%", "%25", ":", "%3A")
	keyUnescaper  = strings.NewReplacer("%3A", ":", "%25", "%")
)

func escapeTenant(tenant string) string {
	return tenantEscaper.Replace(tenant)
}

func escapeKey(key string) string {
	k := strings.ReplaceAll(key, "%", "%25")
	if strings.HasSuffix(k, tagsSuffix) {
		k = k[:len(k)-len(tagsSuffix)] + "%3Atags"
	}
	return k
}

// EntryKey returns the Redis key holding the value for key.
func EntryKey(tenant, key string) string {
	return entryPrefix + escapeTenant(tenant) + ":" + escapeKey(key)
}

// TagsKey returns the forward index key for key.
func TagsKey(tenant, key string) string {
	return EntryKey(tenant, key) + tagsSuffix
}

// ForwardKey returns the forward index key for an already namespaced entry key.
func ForwardKey(entryKey string) string {
	return entryKey + tagsSuffix
}

// TagKey returns the reverse index key for tag.
func TagKey(tenant, tag string) string {
	return tagPrefix + escapeTenant(tenant) + ":" + tag
}

// LogicalKey strips the namespace from an entry key produced by EntryKey.
// It reports false if entryKey does not belong to tenant or is not an entry key.
func LogicalKey(tenant, entryKey string) (string, bool) {
	prefix := entryPrefix + escapeTenant(tenant) + ":"
	rest, ok := strings.CutPrefix(entryKey, prefix)
	if !ok || strings.HasSuffix(rest, tagsSuffix) {
		return "", false
	}
	return keyUnescaper.Replace(rest), true
}
