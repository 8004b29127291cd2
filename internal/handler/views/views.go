// Package views renders the server-side HTML pages: sign-in, home and the
// error panels. The exam and review screens are driven by the JSON API.
package views

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/pavelanni/shoshin/internal/i18n"
	"github.com/pavelanni/shoshin/internal/model"
)

const style = `body{font-family:system-ui,sans-serif;margin:0;background:#f5f6f8;color:#222}
header{background:#1f3a5f;color:#fff;padding:.75rem 1.5rem;display:flex;justify-content:space-between;align-items:center}
header form{margin:0}main{max-width:52rem;margin:2rem auto;background:#fff;padding:2rem;border-radius:6px}
label{display:block;margin-top:1rem}input{padding:.4rem;width:100%;box-sizing:border-box}
.error{color:#b00020}.panel{border-left:4px solid #b00020;padding-left:1rem}
table{border-collapse:collapse;width:100%}td,th{border-bottom:1px solid #ddd;padding:.4rem;text-align:left}`

func write(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}

func esc(s string) string { return templ.EscapeString(s) }

// layout wraps body in the page chrome. The sign-out button is shown when a
// user is signed in.
func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		base := model.BasePathFromContext(ctx)
		appTitle := i18n.T(ctx, "AppTitle")
		if err := write(w,
			`<!DOCTYPE html><html><head><meta charset="utf-8">`,
			`<meta name="viewport" content="width=device-width, initial-scale=1">`,
			`<title>`, esc(title), ` - `, esc(appTitle), `</title><style>`, style, `</style></head><body>`,
			`<header><strong>`, esc(appTitle), `</strong>`,
		); err != nil {
			return err
		}
		if u := model.UserFromContext(ctx); u != nil {
			if err := write(w,
				`<form method="post" action="`, esc(base), `/logout">`,
				`<span>`, esc(u.Name), `</span> `,
				`<input type="hidden" name="csrf_token" value="`, esc(model.CSRFTokenFromContext(ctx)), `">`,
				`<button type="submit">`, esc(i18n.T(ctx, "Logout")), `</button></form>`,
			); err != nil {
				return err
			}
		}
		if err := write(w, `</header><main>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return write(w, `</main></body></html>`)
	})
}

// LoginPage renders the sign-in form with an optional error message.
func LoginPage(errMsg string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := i18n.T(ctx, "LoginTitle")
		body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			if err := write(w, `<h1>`, esc(title), `</h1>`); err != nil {
				return err
			}
			if errMsg != "" {
				if err := write(w, `<p class="error" role="alert">`, esc(errMsg), `</p>`); err != nil {
					return err
				}
			}
			return write(w,
				`<form method="post" action="`, esc(model.BasePathFromContext(ctx)), `/login">`,
				`<input type="hidden" name="csrf_token" value="`, esc(model.CSRFTokenFromContext(ctx)), `">`,
				`<label>`, esc(i18n.T(ctx, "EmployeeID")),
				`<input name="employee_id" inputmode="numeric" pattern="[0-9]{8}" maxlength="8" required autofocus></label>`,
				`<label>`, esc(i18n.T(ctx, "Password")),
				`<input type="password" name="password" required></label>`,
				`<p><button type="submit">`, esc(i18n.T(ctx, "LoginButton")), `</button></p></form>`,
			)
		})
		return layout(title, body).Render(ctx, w)
	})
}

// HomePage greets the signed-in user.
func HomePage(u model.User) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := i18n.T(ctx, "HomeTitle")
		body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			return write(w,
				`<h1>`, esc(title), `</h1>`,
				`<p>`, esc(i18n.Td(ctx, "Welcome", map[string]any{"Name": u.Name})), `</p>`,
				`<p>`, esc(i18n.T(ctx, "Role")), `: `, esc(string(u.Role)), `</p>`,
			)
		})
		return layout(title, body).Render(ctx, w)
	})
}

// ReviewData is the read-only summary shown on the review page.
type ReviewData struct {
	Submission model.Submission
	Exam       model.Exam
	Scores     map[string]int
	Total      int
	Threshold  int
}

// ReviewPage renders a submission's answers next to the current scores.
func ReviewPage(d ReviewData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			if err := write(w,
				`<h1>`, esc(d.Exam.Title), `</h1>`,
				`<p>`, esc(i18n.T(ctx, "EmployeeID")), `: `, esc(d.Submission.ExamineeID),
				` / `, esc(d.Submission.ExamineeHeadquarters),
				` / `, esc(string(d.Submission.Status)), `</p>`,
				`<table><tr><th>`, esc(i18n.T(ctx, "Question")), `</th><th>`, esc(i18n.T(ctx, "Answer")),
				`</th><th>`, esc(i18n.T(ctx, "Score")), `</th></tr>`,
			); err != nil {
				return err
			}
			for _, q := range d.Exam.Questions {
				answer := ""
				if a := d.Submission.Answer(q.ID); a != nil {
					answer = a.Text(func(id string) string {
						if sq := q.SubQuestion(id); sq != nil {
							return sq.Text
						}
						return ""
					})
				}
				score := "-"
				if s, ok := d.Scores[q.ID]; ok {
					score = strconv.Itoa(s)
				}
				if err := write(w,
					`<tr><td>`, esc(q.Text), `</td><td>`, esc(answer), `</td><td>`,
					esc(fmt.Sprintf("%s / %d", score, q.MaxScore())), `</td></tr>`,
				); err != nil {
					return err
				}
			}
			return write(w, `</table><p><strong>`, esc(i18n.T(ctx, "TotalScore")), `: `,
				esc(fmt.Sprintf("%d / %d", d.Total, d.Exam.SumPoints())), `</strong> (`,
				esc(i18n.Td(ctx, "PassLine", map[string]any{"Threshold": d.Threshold})), `)</p>`,
				unscoredNote(ctx, d),
			)
		})
		return layout(d.Exam.Title, body).Render(ctx, w)
	})
}

func unscoredNote(ctx context.Context, d ReviewData) string {
	missing := 0
	for _, q := range d.Exam.Questions {
		if _, ok := d.Scores[q.ID]; !ok {
			missing++
		}
	}
	if missing == 0 {
		return ""
	}
	return `<p class="error">` + esc(i18n.Tp(ctx, "Unscored", missing)) + `</p>`
}

// AccessDeniedPage explains why the submission cannot be shown.
func AccessDeniedPage(reason string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := i18n.T(ctx, "AccessDeniedTitle")
		body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			return write(w,
				`<div class="panel" role="alert"><h1>`, esc(title), `</h1><p>`, esc(reason), `</p></div>`,
				`<p><a href="`, esc(model.BasePathFromContext(ctx)), `/">`, esc(i18n.T(ctx, "BackToList")), `</a></p>`,
			)
		})
		return layout(title, body).Render(ctx, w)
	})
}

// NotFoundPage is the 404 panel.
func NotFoundPage() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := i18n.T(ctx, "NotFoundTitle")
		body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
			return write(w,
				`<div class="panel"><h1>`, esc(title), `</h1><p>`, esc(i18n.T(ctx, "NotFoundBody")), `</p></div>`,
				`<p><a href="`, esc(model.BasePathFromContext(ctx)), `/">`, esc(i18n.T(ctx, "HomeTitle")), `</a></p>`,
			)
		})
		return layout(title, body).Render(ctx, w)
	})
}
