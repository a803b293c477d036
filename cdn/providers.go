/*
Copyright © 2026 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package cdn maps federated shared packages onto CDN URLs.
package cdn

import "strings"

// Provider is a CDN serving npm packages by name and version.
type Provider struct {
	Name string
	// PackageJSONTemplate expands {package} and {version}.
	PackageJSONTemplate string
	// ModuleTemplate expands {package}, {version} and {path}.
	ModuleTemplate string
}

var (
	EsmSh = Provider{
		Name:                "esm.sh",
		PackageJSONTemplate: "https://esm.sh/{package}@{version}/package.json",
		ModuleTemplate:      "https://esm.sh/{package}@{version}/{path}",
	}

	Unpkg = Provider{
		Name:                "unpkg",
		PackageJSONTemplate: "https://unpkg.com/{package}@{version}/package.json",
		ModuleTemplate:      "https://unpkg.com/{package}@{version}/{path}",
	}

	Jsdelivr = Provider{
		Name:                "jsdelivr",
		PackageJSONTemplate: "https://cdn.jsdelivr.net/npm/{package}@{version}/package.json",
		ModuleTemplate:      "https://cdn.jsdelivr.net/npm/{package}@{version}/{path}",
	}
)

// DefaultProvider serves shared packages when no provider is configured.
var DefaultProvider = EsmSh

// ProviderByName returns the provider for name or one of its aliases,
// or nil.
func ProviderByName(name string) *Provider {
	switch strings.ToLower(name) {
	case "esm.sh", "esmsh", "esm":
		return &EsmSh
	case "unpkg":
		return &Unpkg
	case "jsdelivr", "jsdelivr.net", "cdn.jsdelivr.net":
		return &Jsdelivr
	default:
		return nil
	}
}

// ProviderNames lists the canonical provider names.
func ProviderNames() []string {
	return []string{EsmSh.Name, Unpkg.Name, Jsdelivr.Name}
}

// IsValidProvider reports whether ProviderByName recognizes name.
func IsValidProvider(name string) bool {
	return ProviderByName(name) != nil
}

// PackageJSONURL is the URL of pkg's manifest at version.
func (p Provider) PackageJSONURL(pkg, version string) string {
	return expand(p.PackageJSONTemplate, pkg, version, "")
}

// URL is the URL of path inside pkg at version. An empty path yields the
// package directory with a trailing slash.
func (p Provider) URL(pkg, version, path string) string {
	return expand(p.ModuleTemplate, pkg, version, strings.TrimPrefix(path, "./"))
}

func expand(tmpl, pkg, version, path string) string {
	return strings.NewReplacer(
		"{package}", pkg,
		"{version}", version,
		"{path}", path,
	).Replace(tmpl)
}
