package httpapp

import _ "embed"

//go:embed static/favicon.svg
var faviconSVG []byte

//go:embed static/app.css
var appCSS []byte
