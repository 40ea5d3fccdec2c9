package form

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/otp-board/api/schemas"
	"github.com/xkilldash9x/otp-board/internal/browser/dom/domtest"
	"github.com/xkilldash9x/otp-board/internal/browser/locator"
)

func newTestFiller(t *testing.T, page *domtest.Page) *Filler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	loc := locator.New(page, logger, locator.WithTypeDelay(0), locator.WithOptionWait(10*time.Millisecond, 0))
	f := New(loc, logger)
	f.nextTimeout = 30 * time.Millisecond
	f.nextInterval = 5 * time.Millisecond
	return f
}

const filtersPage = `<html><body><form id="search">
	<div><label>עיר</label><select id="city"><option>בחר</option><option>חיפה</option><option>חולון</option></select></div>
	<div><label>סניף</label><input id="branch"></div>
	<div><label>תאריך</label><input id="date" type="date"></div>
	<div><label>משעה</label><input id="from" type="time"></div>
	<div><label>עד שעה</label><input id="to" type="time"></div>
	<button id="search-btn" type="submit">חפש תורים</button>
</form></body></html>`

func TestFillIdentity(t *testing.T) {
	ctx := context.Background()

	t.Run("empty number is skipped", func(t *testing.T) {
		page := domtest.New(`<html><body><label>מספר זהות</label><input id="tz"></body></html>`)
		assert.True(t, newTestFiller(t, page).FillIdentity(ctx, ""))
		assert.Empty(t, page.Actions())
	})

	t.Run("missing field is skipped", func(t *testing.T) {
		page := domtest.New(`<html><body><p>ברוכים הבאים</p></body></html>`)
		assert.True(t, newTestFiller(t, page).FillIdentity(ctx, "123456789"))
		assert.Empty(t, page.ActionsOf("type"))
	})

	t.Run("label lookup then next", func(t *testing.T) {
		page := domtest.New(`<html><body>
			<input id="search" type="text">
			<label for="tz">מספר זהות</label><input id="tz">
			<button id="next">השלב הבא</button>
		</body></html>`)
		require.True(t, newTestFiller(t, page).FillIdentity(ctx, "123456789"))

		assert.Equal(t, "123456789", page.Value("tz"))
		assert.Equal(t, "", page.Value("search"))
		assert.Contains(t, page.ActionsOf("click"), "next")
	})

	t.Run("attribute fallback and Enter", func(t *testing.T) {
		page := domtest.New(`<html><body><input id="x" placeholder="תעודת הזהות שלך" name="tz"></body></html>`)
		require.True(t, newTestFiller(t, page).FillIdentity(ctx, "123456789"))

		assert.Equal(t, "123456789", page.Value("x"))
		assert.Equal(t, []string{"x"}, page.ActionsOf("key"))
	})
}

func TestFillFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("no preferences is a no-op", func(t *testing.T) {
		page := domtest.New(filtersPage)
		assert.True(t, newTestFiller(t, page).FillFilters(ctx, schemas.Preferences{IDNumber: "1"}))
		assert.Empty(t, page.Actions())
	})

	t.Run("only date touches only the date field", func(t *testing.T) {
		page := domtest.New(filtersPage)
		require.True(t, newTestFiller(t, page).FillFilters(ctx, schemas.Preferences{Date: "2025-09-08"}))

		assert.Equal(t, "2025-09-08", page.Value("date"))
		assert.Equal(t, []string{"date"}, page.ActionsOf("type"))
		assert.Empty(t, page.ActionsOf("select"))
		assert.Equal(t, "", page.SelectedOption("city"))
		assert.Contains(t, page.ActionsOf("click"), "search-btn", "search is triggered once")
	})

	t.Run("all filters", func(t *testing.T) {
		page := domtest.New(filtersPage)
		prefs := schemas.Preferences{City: "חיפה", Branch: "מרכז", Date: "2025-09-08", TimeFrom: "08:00", TimeTo: "12:00"}
		require.True(t, newTestFiller(t, page).FillFilters(ctx, prefs))

		assert.Equal(t, "חיפה", page.SelectedOption("city"))
		assert.Equal(t, "מרכז", page.Value("branch"))
		assert.Equal(t, "2025-09-08", page.Value("date"))
		assert.Equal(t, "08:00", page.Value("from"))
		assert.Equal(t, "12:00", page.Value("to"))
	})

	t.Run("unlabelled time field uses type fallback", func(t *testing.T) {
		page := domtest.New(`<html><body><input id="t" type="time"><button id="go">חיפוש</button></body></html>`)
		require.True(t, newTestFiller(t, page).FillFilters(ctx, schemas.Preferences{TimeFrom: "09:30"}))
		assert.Equal(t, "09:30", page.Value("t"))
	})

	t.Run("missing fields never fail", func(t *testing.T) {
		page := domtest.New(`<html><body><p>אין שדות</p></body></html>`)
		assert.True(t, newTestFiller(t, page).FillFilters(ctx, schemas.Preferences{City: "חיפה", TimeTo: "12:00"}))
		assert.Empty(t, page.ActionsOf("type"))
	})

	t.Run("Enter on last field when nothing advances", func(t *testing.T) {
		page := domtest.New(`<html><body><div><label>תאריך</label><input id="date"></div></body></html>`)
		require.True(t, newTestFiller(t, page).FillFilters(ctx, schemas.Preferences{Date: "2025-09-08"}))
		assert.Equal(t, []string{"date"}, page.ActionsOf("key"))
	})
}

func TestClickNext(t *testing.T) {
	ctx := context.Background()

	t.Run("prefers label order", func(t *testing.T) {
		page := domtest.New(`<html><body>
			<button id="search">חפש</button><button id="next">הבא</button>
		</body></html>`)
		assert.True(t, newTestFiller(t, page).ClickNext(ctx, time.Second))
		assert.Equal(t, []string{"next"}, page.ActionsOf("click"))
	})

	t.Run("skips disabled buttons", func(t *testing.T) {
		page := domtest.New(`<html><body>
			<button id="next" disabled>הבא</button><input id="submit" type="submit" value="שלח">
		</body></html>`)
		assert.True(t, newTestFiller(t, page).ClickNext(ctx, time.Second))
		assert.Equal(t, []string{"submit"}, page.ActionsOf("click"))
	})

	t.Run("submits the form of a disabled labelled button", func(t *testing.T) {
		page := domtest.New(`<html><body><form id="wizard">
			<button id="next" disabled>המשך</button>
		</form></body></html>`)
		assert.True(t, newTestFiller(t, page).ClickNext(ctx, time.Second))
		assert.Equal(t, []string{"next"}, page.ActionsOf("enable"))
		assert.Equal(t, []string{"wizard"}, page.ActionsOf("submit"))
	})

	t.Run("gives up after timeout", func(t *testing.T) {
		page := domtest.New(`<html><body><button id="back">חזרה</button></body></html>`)
		assert.False(t, newTestFiller(t, page).ClickNext(ctx, 20*time.Millisecond))
	})
}
