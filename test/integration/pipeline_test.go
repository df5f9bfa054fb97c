//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/WWWonderer/activity-logger/internal/aggregate"
	"github.com/WWWonderer/activity-logger/internal/classify"
	"github.com/WWWonderer/activity-logger/internal/dashboard"
	"github.com/WWWonderer/activity-logger/internal/domain"
	"github.com/WWWonderer/activity-logger/internal/store"
)

func newClassifier(dir string) *classify.RuleClassifier {
	logger := zap.NewNop()
	rules := classify.NewRuleEngine(dir+"/category_rules.json", logger)
	Expect(rules.Load()).To(Succeed())
	keywords := classify.NewKeywordIndex(dir+"/category_keywords.json", logger)
	Expect(keywords.Load()).To(Succeed())
	return classify.New(rules, keywords, nil, logger)
}

var _ = Describe("Tracking pipeline", func() {
	var (
		dir        string
		classifier *classify.RuleClassifier
		st         *store.Store
		t0         time.Time
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		classifier = newClassifier(dir)
		var err error
		st, err = store.New(dir, "itdev", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		t0 = time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	})

	sampleAt := func(offset time.Duration, app, title, url string) domain.Sample {
		return domain.Sample{Timestamp: t0.Add(offset), App: app, Title: title, URL: url}
	}

	It("folds samples into classified sessions and persists them", func() {
		agg := aggregate.New(classifier, "itdev", domain.AggregatorState{})

		sessions := agg.Drain([]domain.Sample{
			sampleAt(0, "Visual Studio Code", "main.go", ""),
			sampleAt(10*time.Second, "Visual Studio Code", "main.go", ""),
			sampleAt(20*time.Second, "Safari", "r/golang", "https://www.reddit.com/r/golang"),
		}, true, t0.Add(30*time.Second))
		Expect(sessions).To(HaveLen(2))
		Expect(sessions[0].Category).To(Equal("Coding"))
		Expect(sessions[0].IsProductive).To(BeTrue())
		Expect(sessions[1].Category).To(Equal("Social/Forums"))
		Expect(sessions[1].IsProductive).To(BeFalse())

		Expect(st.Append(sessions)).To(Succeed())

		stored, err := st.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(2))
		Expect(stored[0].DurationSec).To(Equal(20.0))
	})

	It("stitches a session split by a simulated restart into one row", func() {
		agg := aggregate.New(classifier, "itdev", domain.AggregatorState{})
		sessions := agg.Drain([]domain.Sample{
			sampleAt(0, "Visual Studio Code", "main.go", ""),
		}, true, t0.Add(60*time.Second))
		Expect(st.Append(sessions)).To(Succeed())

		// restart 10s later: the tail row reopens as the active session
		restartAt := t0.Add(70 * time.Second)
		resumed := st.Resume(restartAt)
		Expect(resumed.Active).To(BeTrue())
		Expect(resumed.Identity.App).To(Equal("Visual Studio Code"))

		agg2 := aggregate.New(classifier, "itdev", resumed)
		sessions = agg2.Drain([]domain.Sample{
			sampleAt(80*time.Second, "Visual Studio Code", "main.go", ""),
		}, true, t0.Add(90*time.Second))
		Expect(st.Append(sessions)).To(Succeed())

		stored, err := st.SessionsBetween(t0.Add(-time.Hour), t0.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(1))
		Expect(stored[0].DurationSec).To(Equal(90.0))
		Expect(stored[0].EndTime.Equal(t0.Add(90 * time.Second))).To(BeTrue())
	})

	It("does not resume after a long gap", func() {
		agg := aggregate.New(classifier, "itdev", domain.AggregatorState{})
		sessions := agg.Drain([]domain.Sample{
			sampleAt(0, "Visual Studio Code", "main.go", ""),
		}, true, t0.Add(60*time.Second))
		Expect(st.Append(sessions)).To(Succeed())

		Expect(st.Resume(t0.Add(5 * time.Minute)).Active).To(BeFalse())
	})

	It("serves persisted sessions over the dashboard API", func() {
		agg := aggregate.New(classifier, "itdev", domain.AggregatorState{})
		sessions := agg.Drain([]domain.Sample{
			sampleAt(0, "Visual Studio Code", "main.go", ""),
			sampleAt(time.Hour, "Safari", "r/golang", "https://www.reddit.com/r/golang"),
		}, true, t0.Add(90*time.Minute))
		Expect(st.Append(sessions)).To(Succeed())

		addr := "127.0.0.1:18733"
		srv := dashboard.NewServer(addr, st, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		done := make(chan error, 1)
		go func() { done <- srv.Run(ctx) }()

		base := fmt.Sprintf("http://%s", addr)
		Eventually(func() error {
			_, err := http.Get(base + "/healthz")
			return err
		}, 5*time.Second, 100*time.Millisecond).Should(Succeed())

		resp, err := http.Get(base + "/api/summary?date=2026-08-30")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(ContainSubstring("Coding"))
		Expect(string(body)).To(ContainSubstring("Social/Forums"))

		cancel()
		Eventually(done, 10*time.Second).Should(Receive(BeNil()))
	})
})
