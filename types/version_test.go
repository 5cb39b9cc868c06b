package types //nolint:revive // types is a valid package name

import (
	"regexp"
	"testing"
)

var semver = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)

func TestVersionIsSemver(t *testing.T) {
	if !semver.MatchString(Version) {
		t.Errorf("Version %q is not a valid semver", Version)
	}
}

func TestContractVersionIsSemver(t *testing.T) {
	if !semver.MatchString(ContractVersion) {
		t.Errorf("ContractVersion %q is not a valid semver", ContractVersion)
	}
}
