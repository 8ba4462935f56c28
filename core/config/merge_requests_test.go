package config_test

import (
	"fmt"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"mrpulse.app/dashboard/core/config"
)

var _ = Describe("LoadMergeRequests", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(content string) string {
		path := filepath.Join(dir, "merge_requests.yml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	It("falls back to the defaults when the file is missing", func() {
		cfg, err := config.LoadMergeRequests(filepath.Join(dir, "missing.yml"))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg).To(Equal(config.DefaultMergeRequests()))
	})

	It("overrides the defaults with the file", func() {
		cfg, err := config.LoadMergeRequests(write(`
workflow_namespace: "flow::"
notification_rules:
  - labels: ["pipeline::tier-1"]
    required_state: opened
bots: ["review-robot"]
working_hours:
  start: 8
  end: 16
`))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.WorkflowNamespace).To(Equal("flow::"))
		Expect(cfg.NotificationRules).To(ConsistOf(config.NotificationRule{
			Labels:        []string{"pipeline::tier-1"},
			RequiredState: "opened",
		}))
		Expect(cfg.WorkingHours).To(Equal(config.WorkingHours{Start: 8, End: 16}))
		Expect(cfg.ContextualLabels).To(Equal(config.DefaultMergeRequests().ContextualLabels))
	})

	It("loads the bundled sample", func() {
		cfg, err := config.LoadMergeRequests("../../config/merge_requests.yml")
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.NotificationRules).NotTo(BeEmpty())
		Expect(cfg.IssueProject("gitlab-org/security/gitlab")).To(Equal("gitlab-org/gitlab"))
	})

	It("rejects malformed YAML", func() {
		_, err := config.LoadMergeRequests(write("bots: [unclosed"))
		Expect(err).To(MatchError(ContainSubstring("parsing merge requests config")))
	})
})

var _ = Describe("ParseMergeRequests", func() {
	It("rejects notification rules without labels", func() {
		_, err := config.ParseMergeRequests([]byte(`
notification_rules:
  - labels: ["pipeline::tier-1"]
  - required_state: merged
`))
		Expect(err).To(MatchError("notification rule 1 has no labels"))
	})

	DescribeTable("rejects working hours that do not end after they start",
		func(start, end int) {
			_, err := config.ParseMergeRequests([]byte(
				fmt.Sprintf("working_hours:\n  start: %d\n  end: %d\n", start, end)))
			Expect(err).To(MatchError(ContainSubstring("working hours end")))
		},
		Entry("equal", 9, 9),
		Entry("reversed", 18, 9),
	)
})

var _ = Describe("MergeRequests", func() {
	cfg := config.DefaultMergeRequests()

	It("maps detailed merge statuses to classes", func() {
		Expect(cfg.StatusClass("MERGEABLE")).To(Equal("success"))
		Expect(cfg.StatusClass("SOMETHING_NEW")).To(Equal("secondary"))
	})

	It("recognizes bots by suffix and by the configured list", func() {
		withBots := cfg
		withBots.Bots = []string{"GitLab-Bot-Account"}
		Expect(withBots.IsBot("danger-bot")).To(BeTrue())
		Expect(withBots.IsBot("gitlab-bot-account")).To(BeTrue())
		Expect(withBots.IsBot("pedropombeiro")).To(BeFalse())
	})

	It("keeps issue projects without an override", func() {
		Expect(cfg.IssueProject("gitlab-org/gitlab-runner")).To(Equal("gitlab-org/gitlab-runner"))
	})
})
