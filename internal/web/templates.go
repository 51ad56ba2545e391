// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import "html/template"

// Deliberately minimal views. Gatehouse is an authentication gateway, not
// a UI project; these exist so the flows are usable from a browser.
var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "index"}}<!DOCTYPE html>
<html>
<head><title>Gatehouse</title></head>
<body>
{{range .Messages}}<p class="message">{{.}}</p>
{{end}}
{{if .User}}<p>Logged in as {{.User.Username}}.</p>
<p><a href="/restricted">Restricted page</a> | <a href="/log-out">Log out</a></p>
{{else}}<form action="/log-in" method="POST">
<label>Username <input name="username"></label>
<label>Password <input name="password" type="password"></label>
<button type="submit">Log in</button>
</form>
<p><a href="/sign-up">Sign up</a></p>
{{end}}
</body>
</html>
{{end}}

{{define "signup"}}<!DOCTYPE html>
<html>
<head><title>Sign up - Gatehouse</title></head>
<body>
<form action="/sign-up" method="POST">
<label>Username <input name="username"></label>
<label>Password <input name="password" type="password"></label>
<button type="submit">Sign up</button>
</form>
</body>
</html>
{{end}}

{{define "restricted"}}<!DOCTYPE html>
<html>
<head><title>Restricted - Gatehouse</title></head>
<body>
<p>Hello {{.User.Username}}.</p>
<p>You have viewed this page {{.PageCount}} time(s).</p>
<p><a href="/">Home</a></p>
</body>
</html>
{{end}}
`))
