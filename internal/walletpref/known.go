package walletpref

import (
	"slices"
	"strings"

	"github.com/agnivade/levenshtein"
)

// MaxSuggestDistance is the largest edit distance offered as a suggestion.
const MaxSuggestDistance = 3

// KnownWallet is a wallet app Tessera recognizes by package name.
type KnownWallet struct {
	Package    string `json:"package"`
	Name       string `json:"name"`
	ClientType string `json:"client_type"`
	// Deeplink is true when the wallet answers universal-link requests.
	Deeplink bool `json:"deeplink"`
}

// KnownWallets lists the wallet apps offered in the picker.
//
//nolint:gochecknoglobals // static registry
var KnownWallets = []KnownWallet{
	{Package: "app.phantom", Name: "Phantom", ClientType: "phantom", Deeplink: true},
	{Package: "com.solflare.mobile", Name: "Solflare", ClientType: "solflare", Deeplink: true},
	{Package: "app.backpack.mobile", Name: "Backpack", ClientType: "backpack", Deeplink: true},
	{Package: "com.solanamobile.seedvault.wallet", Name: "Seed Vault", ClientType: "seed_vault"},
	{Package: "com.glow.wallet", Name: "Glow", ClientType: "glow"},
}

// Lookup finds a known wallet by package or name, ignoring case.
func Lookup(nameOrPackage string) (KnownWallet, bool) {
	needle := strings.ToLower(strings.TrimSpace(nameOrPackage))
	for _, w := range KnownWallets {
		if needle == w.Package || needle == strings.ToLower(w.Name) || needle == w.ClientType {
			return w, true
		}
	}
	return KnownWallet{}, false
}

// ClientType returns the backend wallet client type for a package. Unknown
// packages are passed through.
func ClientType(pkg string) string {
	if w, ok := Lookup(pkg); ok {
		return w.ClientType
	}
	return pkg
}

// Suggest returns known wallet packages close to a mistyped input, nearest first.
func Suggest(input string) []string {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return nil
	}

	type match struct {
		pkg  string
		dist int
	}
	var matches []match
	for _, w := range KnownWallets {
		dist := min(
			levenshtein.ComputeDistance(input, w.Package),
			levenshtein.ComputeDistance(input, strings.ToLower(w.Name)),
		)
		if dist <= MaxSuggestDistance {
			matches = append(matches, match{pkg: w.Package, dist: dist})
		}
	}
	slices.SortStableFunc(matches, func(a, b match) int { return a.dist - b.dist })

	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.pkg
	}
	return out
}
