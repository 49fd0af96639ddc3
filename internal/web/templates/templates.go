// Package templates embeds the HTML served by the web package.
package templates

import "embed"

//go:embed *.html pages/*.html
var FS embed.FS
