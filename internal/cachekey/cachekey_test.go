package cachekey_test

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/internal/cachekey"
)

var _ = Describe("Builder", func() {
	var (
		builder cachekey.Builder
		version string
	)

	BeforeEach(func() {
		builder = cachekey.New("fallback-token")
		version = cachekey.Version("query { currentUser { username } }")
	})

	It("is deterministic", func() {
		Expect(builder.Key("merge_requests", version, "user.1")).To(Equal(builder.Key("merge_requests", version, "user.1")))
	})

	It("ignores identity case and surrounding whitespace", func() {
		Expect(builder.Key("merge_requests", version, "User.1")).To(Equal(builder.Key("merge_requests", version, "user.1")))
		Expect(builder.Key("merge_requests", version, "  user.1 ")).To(Equal(builder.Key("merge_requests", version, "user.1")))
	})

	It("distinguishes different identities", func() {
		Expect(builder.Key("merge_requests", version, "user.1")).NotTo(Equal(builder.Key("merge_requests", version, "user.2")))
	})

	It("prefixes keys with namespace and version", func() {
		key := builder.Key("merge_requests", version, "user.1")
		Expect(strings.HasPrefix(key, "merge_requests/"+version+"/")).To(BeTrue())
	})

	It("maps empty identity to the sentinel hash, not to an empty string", func() {
		key := builder.Key("merge_requests", version, "")
		Expect(key).NotTo(HaveSuffix("/"))
		Expect(key).To(Equal(builder.Key("merge_requests", version, "   ")))
		Expect(key).To(Equal(builder.Key("merge_requests", version)))

		other := cachekey.New("another-token")
		Expect(other.Key("merge_requests", version, "")).NotTo(Equal(key))
	})

	It("hashes components individually before combining them", func() {
		Expect(builder.Identity("ab", "c")).NotTo(Equal(builder.Identity("a", "bc")))
		Expect(builder.Identity("a", "b")).NotTo(Equal(builder.Identity("b", "a")))
	})

	Describe("Version", func() {
		It("is 16 hex characters", func() {
			Expect(version).To(MatchRegexp(`^[0-9a-f]{16}$`))
		})

		It("changes when the query shape changes", func() {
			Expect(cachekey.Version("query { currentUser { username name } }")).NotTo(Equal(version))
		})

		It("does not change with formatting", func() {
			Expect(cachekey.Version("query {\n  currentUser {\n    username\n  }\n}")).To(Equal(version))
		})

		It("depends on every document", func() {
			Expect(cachekey.Version("a", "b")).NotTo(Equal(cachekey.Version("a")))
		})
	})
})
