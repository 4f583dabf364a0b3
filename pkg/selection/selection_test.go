package selection

import (
	"testing"

	"github.com/nullwarden/warden/pkg/config"
	"github.com/nullwarden/warden/pkg/runtime"
)

func newContainer(name string, labels map[string]string) *runtime.Container {
	return &runtime.Container{ID: name + "-id", Name: name, Labels: labels}
}

func TestIsMonitored_ExcludedAlwaysWinsOverSelected(t *testing.T) {
	doc := config.Default()
	doc.Selection.Selected["web"] = true
	doc.Selection.Excluded["web"] = true

	if IsMonitored(doc, "web", newContainer("web", nil)) {
		t.Fatal("expected excluded entry to take priority over selected")
	}
}

func TestIsMonitored_ExplicitlySelectedBypassesEnrollmentLabel(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = false
	doc.Selection.Selected["web"] = true

	if !IsMonitored(doc, "web", newContainer("web", nil)) {
		t.Fatal("expected explicitly selected container to be monitored regardless of enrollment label")
	}
}

func TestIsMonitored_RequiresEnrollmentLabelWhenNotIncludeAll(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = false

	unlabeled := newContainer("web", nil)
	if IsMonitored(doc, "web", unlabeled) {
		t.Fatal("expected container without the enrollment label to be skipped")
	}

	labeled := newContainer("web", map[string]string{"autoheal": "true"})
	if !IsMonitored(doc, "web", labeled) {
		t.Fatal("expected container with the enrollment label to be monitored")
	}
}

func TestIsMonitored_IncludeAllSkipsEnrollmentLabelCheck(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = true

	if !IsMonitored(doc, "web", newContainer("web", nil)) {
		t.Fatal("expected include_all to monitor unlabeled containers")
	}
}

func TestIsMonitored_GlobBlacklistExcludesMatchingNames(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = true
	doc.Filters.BlacklistNames = []string{"tmp-*"}

	if IsMonitored(doc, "tmp-worker", newContainer("tmp-worker", nil)) {
		t.Fatal("expected glob blacklist to exclude matching container name")
	}
}

func TestIsMonitored_WhitelistNamesRequiresAMatch(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = true
	doc.Filters.WhitelistNames = []string{"web-*"}

	if IsMonitored(doc, "worker", newContainer("worker", nil)) {
		t.Fatal("expected container not matching the whitelist glob to be excluded")
	}
	if !IsMonitored(doc, "web-1", newContainer("web-1", nil)) {
		t.Fatal("expected container matching the whitelist glob to be monitored")
	}
}

func TestIsMonitored_LabelBlacklistExcludesMatchingLabels(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = true
	doc.Filters.BlacklistLabels = []string{"tier=batch"}

	c := newContainer("worker", map[string]string{"tier": "batch"})
	if IsMonitored(doc, "worker", c) {
		t.Fatal("expected label blacklist match to exclude the container")
	}
}

func TestIsMonitored_LabelWhitelistRequiresAMatch(t *testing.T) {
	doc := config.Default()
	doc.Monitor.IncludeAll = true
	doc.Filters.WhitelistLabels = []string{"tier=web"}

	batch := newContainer("worker", map[string]string{"tier": "batch"})
	if IsMonitored(doc, "worker", batch) {
		t.Fatal("expected container without a whitelisted label to be excluded")
	}

	web := newContainer("web", map[string]string{"tier": "web"})
	if !IsMonitored(doc, "web", web) {
		t.Fatal("expected container with a whitelisted label to be monitored")
	}
}

func TestIsMonitored_SelectedByComposeServiceName(t *testing.T) {
	doc := config.Default()
	doc.Selection.Selected["app"] = true

	c := newContainer("app_web_1", map[string]string{"com.docker.compose.service": "app"})
	if !IsMonitored(doc, "app_web_1", c) {
		t.Fatal("expected compose service name to satisfy the selected-set lookup")
	}
}
