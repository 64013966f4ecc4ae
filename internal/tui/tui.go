package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/Joseda-hg/planner/internal/model"
	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"
)

const (
	viewHeader     = "header"
	viewFooter     = "footer"
	viewPages      = "pages"
	viewNotStarted = "notStarted"
	viewPending    = "pending"
	viewStarted    = "started"
	viewCompleted  = "completed"
	viewDetails    = "details"
	viewSearch     = "search"
	viewForm       = "form"
	viewHelp       = "help"
	viewPrompt     = "prompt"
)

// columnViews maps each status column to its view, in board order.
var columnViews = []struct {
	name   string
	status model.Status
	title  string
	color  gocui.Attribute
}{
	{viewNotStarted, model.StatusNotStarted, "2 Not Started", gocui.ColorDefault},
	{viewPending, model.StatusPending, "3 Pending", gocui.ColorYellow},
	{viewStarted, model.StatusStartedWorking, "4 Started", gocui.ColorBlue},
	{viewCompleted, model.StatusCompleted, "5 Completed", gocui.ColorGreen},
}

type Tasks interface {
	Tasks() []model.Task
	Loading() bool
	Error() string
	ClearError()
	Summary() model.Summary
	Reload(ctx context.Context, pageID string) error
	AddTask(ctx context.Context, task model.Task) (model.Task, error)
	UpdateTask(ctx context.Context, id string, patch model.TaskPatch) (model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ChangeTaskStatus(ctx context.Context, id string, status model.Status) (model.Task, error)
	AddSubtask(ctx context.Context, taskID, title string) (model.Task, error)
	ToggleSubtask(ctx context.Context, taskID, subtaskID string) (model.Task, error)
	RemoveSubtask(ctx context.Context, taskID, subtaskID string) (model.Task, error)
}

type Pages interface {
	Pages() []model.Page
	Selected() (model.Page, bool)
	AddPage(ctx context.Context, name string) (model.Page, error)
	DeletePage(ctx context.Context, id string) error
	SetSelectedPage(ctx context.Context, page *model.Page)
}

type promptKind int

const (
	promptPage promptKind = iota
	promptSubtask
)

type UI struct {
	ctx   context.Context
	tasks Tasks
	pages Pages
	gui   *gocui.Gui

	query   string
	columns map[model.Status][]model.Task
	pageSet []model.Page

	selected        map[string]int
	selectedPage    int
	selectedSubtask int
	focus           string
	// column is the last focused status column.
	column          string

	form         *formState
	formEditor   *formEditor
	prompt       *promptKind
	searchActive bool
	helpActive   bool
	status       string
}

type formState struct {
	taskID string
	fields []formField
	index  int
}

type formEditor struct {
	ui *UI
}

// Run draws the board until the user quits or ctx is cancelled. A receive
// on changes redraws the board from the coordinator's current cache.
func Run(ctx context.Context, tasks Tasks, pages Pages, changes <-chan struct{}) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(ctx, tasks, pages)
	ui.gui = gui
	gui.Mouse = true
	ui.formEditor = &formEditor{ui: ui}

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}
	ui.refresh()

	go func() {
		for {
			select {
			case <-ctx.Done():
				gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
				return
			case _, ok := <-changes:
				if !ok {
					return
				}
				gui.Update(func(*gocui.Gui) error {
					ui.refresh()
					return nil
				})
			}
		}
	}()

	if err := gui.MainLoop(); err != nil && !goerrors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

func newUI(ctx context.Context, tasks Tasks, pages Pages) *UI {
	return &UI{
		ctx:      ctx,
		tasks:    tasks,
		pages:    pages,
		focus:    viewNotStarted,
		column:   viewNotStarted,
		columns:  make(map[model.Status][]model.Task),
		selected: make(map[string]int),
	}
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	global := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, u.quit},
		{'q', u.quit},
		{'r', u.reload},
		{'a', u.addTask},
		{'e', u.editTask},
		{'d', u.deleteTask},
		{'x', u.cycleStatus},
		{'c', u.completeTask},
		{'s', u.openSubtaskPrompt},
		{'p', u.openPagePrompt},
		{'/', u.startSearch},
		{'g', u.clearSearch},
		{'?', u.toggleHelp},
		{gocui.KeyTab, u.switchFocus},
		{'1', u.focusView(viewPages)},
		{'2', u.focusView(viewNotStarted)},
		{'3', u.focusView(viewPending)},
		{'4', u.focusView(viewStarted)},
		{'5', u.focusView(viewCompleted)},
		{'6', u.focusView(viewDetails)},
	}
	for _, binding := range global {
		if err := gui.SetKeybinding("", binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	lists := []string{viewPages, viewNotStarted, viewPending, viewStarted, viewCompleted, viewDetails}
	for _, name := range lists {
		for _, key := range []any{gocui.KeyArrowDown, 'j'} {
			if err := gui.SetKeybinding(name, key, gocui.ModNone, u.moveDown); err != nil {
				return err
			}
		}
		for _, key := range []any{gocui.KeyArrowUp, 'k'} {
			if err := gui.SetKeybinding(name, key, gocui.ModNone, u.moveUp); err != nil {
				return err
			}
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelUp, gocui.ModNone, u.scrollUp); err != nil {
			return err
		}
		if err := gui.SetKeybinding(name, gocui.MouseWheelDown, gocui.ModNone, u.scrollDown); err != nil {
			return err
		}
		viewName := name
		if err := gui.SetViewClickBinding(&gocui.ViewMouseBinding{ViewName: viewName, Key: gocui.MouseLeft, Handler: func(opts gocui.ViewMouseBindingOpts) error {
			return u.onListClick(gui, viewName, opts)
		}}); err != nil {
			return err
		}
	}
	for _, column := range columnViews {
		if err := gui.SetKeybinding(column.name, gocui.KeyEnter, gocui.ModNone, u.editTask); err != nil {
			return err
		}
	}

	scoped := []struct {
		view    string
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{viewPages, gocui.KeyEnter, u.selectPage},
		{viewPages, gocui.KeySpace, u.selectPage},
		{viewDetails, gocui.KeySpace, u.toggleSubtask},
		{viewDetails, gocui.KeyEnter, u.toggleSubtask},
		{viewSearch, gocui.KeyEnter, u.submitSearch},
		{viewSearch, gocui.KeyEsc, u.cancelSearch},
		{viewForm, gocui.KeyEnter, u.submitForm},
		{viewForm, gocui.KeyCtrlJ, u.submitForm},
		{viewForm, gocui.KeyTab, u.nextFormField},
		{viewForm, gocui.KeyBacktab, u.prevFormField},
		{viewForm, gocui.KeyArrowDown, u.nextFormField},
		{viewForm, gocui.KeyArrowUp, u.prevFormField},
		{viewForm, gocui.KeyEsc, u.cancelForm},
		{viewPrompt, gocui.KeyEnter, u.submitPrompt},
		{viewPrompt, gocui.KeyEsc, u.cancelPrompt},
		{viewHelp, gocui.KeyEsc, u.closeHelp},
		{viewHelp, 'q', u.closeHelp},
		{viewHelp, '?', u.closeHelp},
	}
	for _, binding := range scoped {
		if err := gui.SetKeybinding(binding.view, binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	u.renderHeader(headerView)

	footerY1 := max(maxY-2, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom < bodyTop {
		return nil
	}

	layout := computeLayout(maxX, bodyBottom-bodyTop+1)

	pagesView, err := gui.SetView(viewPages, 0, bodyTop, layout.pagesWidth-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		pagesView.Title = "1 Pages"
		pagesView.TitleColor = gocui.ColorCyan
	}
	applyViewStyle(pagesView, u.focus == viewPages, true)
	u.renderPages(pagesView)

	columnsY1 := bodyTop + layout.columnsHeight - 1
	x0 := layout.pagesWidth
	for i, column := range columnViews {
		x1 := x0 + layout.columnWidth - 1
		if i == len(columnViews)-1 {
			x1 = maxX - 1
		}
		view, err := gui.SetView(column.name, x0, bodyTop, x1, columnsY1, 0)
		if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
			return err
		}
		if goerrors.Is(err, gocui.ErrUnknownView) {
			view.TitleColor = column.color
		}
		view.Title = fmt.Sprintf("%s (%d)", column.title, len(u.columns[column.status]))
		applyViewStyle(view, u.focus == column.name, true)
		u.renderTaskList(view, u.columns[column.status], u.selected[column.name], u.focus == column.name)
		x0 = x1 + 1
	}

	detailsView, err := gui.SetView(viewDetails, layout.pagesWidth, columnsY1+1, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		detailsView.Title = "6 Details"
		detailsView.Wrap = true
	}
	applyViewStyle(detailsView, u.focus == viewDetails, false)
	u.renderDetails(detailsView)

	_, _ = gui.SetViewOnTop(viewHeader)
	_, _ = gui.SetViewOnTop(viewFooter)

	if u.searchActive {
		if err := u.showSearch(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewSearch)
	}

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
	}

	if u.prompt != nil {
		if err := u.showPrompt(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewPrompt)
	}

	if u.helpActive {
		if err := u.showHelp(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewHelp)
	}

	if gui.CurrentView() == nil {
		_, _ = gui.SetCurrentView(u.focus)
	}

	gui.Cursor = u.searchActive || u.form != nil || u.prompt != nil
	return nil
}

type layout struct {
	pagesWidth    int
	columnWidth   int
	columnsHeight int
}

func computeLayout(width, height int) layout {
	safeWidth := max(width, 60)
	safeHeight := max(height, 10)

	pagesWidth := min(max(safeWidth/6, 18), 30)
	columnWidth := max((safeWidth-pagesWidth)/len(columnViews), 10)

	columnsHeight := int(float64(safeHeight) * 0.65)
	if columnsHeight < 5 {
		columnsHeight = 5
	}
	if safeHeight-columnsHeight < 5 {
		columnsHeight = max(safeHeight-5, 3)
	}

	return layout{pagesWidth: pagesWidth, columnWidth: columnWidth, columnsHeight: columnsHeight}
}

// refresh rebuilds the board from the coordinator cache and the page set.
func (u *UI) refresh() {
	u.pageSet = u.pages.Pages()
	if selected, ok := u.pages.Selected(); ok {
		for i, p := range u.pageSet {
			if p.ID == selected.ID {
				u.selectedPage = i
			}
		}
	}
	u.selectedPage = clamp(u.selectedPage, len(u.pageSet))

	u.columns = groupByStatus(filterTasks(u.tasks.Tasks(), u.query))
	for _, column := range columnViews {
		u.selected[column.name] = clamp(u.selected[column.name], len(u.columns[column.status]))
	}
	if task := u.selectedTask(); task != nil {
		u.selectedSubtask = clamp(u.selectedSubtask, len(task.Subtasks))
	} else {
		u.selectedSubtask = 0
	}

	if message := u.tasks.Error(); message != "" {
		u.status = message
	}
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	pageLabel := "no page"
	if selected, ok := u.pages.Selected(); ok {
		pageLabel = selected.Name
	}
	query := u.query
	if query == "" {
		query = "type / to search"
	}
	summary := u.tasks.Summary()
	loading := ""
	if u.tasks.Loading() {
		loading = " | loading..."
	}
	fmt.Fprintf(view, "Page: %s | Search: %s | %d tasks, %d%% done, %d overdue%s",
		pageLabel, query, summary.Total, summary.Efficiency, summary.Overdue, loading)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	view.SetCursor(0, 0)

	fmt.Fprintln(view, "a add | e edit | d delete | x next status | c complete | s subtask | space toggle subtask")
	fmt.Fprintln(view, "p new page | enter select page | / search | g clear | r reload | tab cycle | 1-6 panes | ? help | q quit")
	if u.status != "" {
		fmt.Fprint(view, u.status)
	}
}

func (u *UI) renderPages(view *gocui.View) {
	view.Clear()
	active, _ := u.pages.Selected()
	for i, p := range u.pageSet {
		prefix := " "
		if i == u.selectedPage && u.focus == viewPages {
			prefix = ">"
		}
		marker := " "
		if p.ID == active.ID {
			marker = "*"
		}
		fmt.Fprintf(view, "%s%s %s\n", prefix, marker, colorize(p.Color, p.Name))
	}
	if u.focus == viewPages {
		view.SetCursor(0, min(u.selectedPage, len(u.pageSet)-1))
	}
}

func (u *UI) renderTaskList(view *gocui.View, tasks []model.Task, selected int, focused bool) {
	view.Clear()
	for i, task := range tasks {
		prefix := " "
		if i == selected {
			if focused {
				prefix = ">"
			} else {
				prefix = "*"
			}
		}
		fmt.Fprintf(view, "%s %s\n", prefix, formatTaskSummary(task))
	}
	if focused {
		view.SetCursor(0, min(selected, len(tasks)-1))
	}
}

func (u *UI) renderDetails(view *gocui.View) {
	view.Clear()
	task := u.selectedTask()
	if task == nil {
		fmt.Fprint(view, "No task selected")
		return
	}
	fmt.Fprint(view, formatTaskDetails(*task, u.selectedSubtask, u.focus == viewDetails))
}

func (u *UI) onListClick(gui *gocui.Gui, viewName string, opts gocui.ViewMouseBindingOpts) error {
	if u.inputActive() {
		return nil
	}
	view, err := gui.View(viewName)
	if err != nil {
		return nil
	}

	_, y0, _, _ := view.Dimensions()
	_, oy := view.Origin()
	row := max(opts.Y-y0-1+oy, 0)

	switch viewName {
	case viewPages:
		u.selectedPage = clamp(row, len(u.pageSet))
		if err := u.setFocus(gui, viewPages); err != nil {
			return err
		}
		return u.selectPage(gui, nil)
	case viewDetails:
		if task := u.selectedTask(); task != nil {
			// subtasks start after the header lines of the details pane
			u.selectedSubtask = clamp(row-detailsHeaderLines(*task), len(task.Subtasks))
		}
		return u.setFocus(gui, viewDetails)
	default:
		u.selected[viewName] = clamp(row, len(u.columns[statusForView(viewName)]))
		return u.setFocus(gui, viewName)
	}
}

func (u *UI) scrollUp(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if view == nil {
		view = gui.CurrentView()
	}
	if view == nil {
		return nil
	}
	view.ScrollUp(1)
	return nil
}

func (u *UI) scrollDown(gui *gocui.Gui, view *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if view == nil {
		view = gui.CurrentView()
	}
	if view == nil {
		return nil
	}
	view.ScrollDown(1)
	return nil
}

// selectedTask is the highlighted task of the focused column, or of the
// last focused column while the pages or details pane has focus.
func (u *UI) selectedTask() *model.Task {
	name := u.focus
	if statusForView(name) == "" {
		name = u.column
	}
	tasks := u.columns[statusForView(name)]
	index := u.selected[name]
	if index < 0 || index >= len(tasks) {
		return nil
	}
	return &tasks[index]
}

func (u *UI) switchFocus(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	order := []string{viewPages, viewNotStarted, viewPending, viewStarted, viewCompleted, viewDetails}
	next := order[0]
	for i, name := range order {
		if name == u.focus {
			next = order[(i+1)%len(order)]
		}
	}
	return u.setFocus(gui, next)
}

func (u *UI) focusView(name string) func(*gocui.Gui, *gocui.View) error {
	return func(gui *gocui.Gui, _ *gocui.View) error {
		return u.setFocus(gui, name)
	}
}

func (u *UI) setFocus(gui *gocui.Gui, name string) error {
	if u.inputActive() {
		return nil
	}
	if statusForView(name) != "" {
		u.column = name
	}
	u.focus = name
	if gui != nil {
		_, _ = gui.SetCurrentView(name)
	}
	return nil
}

func (u *UI) moveDown(_ *gocui.Gui, _ *gocui.View) error {
	return u.move(1)
}

func (u *UI) moveUp(_ *gocui.Gui, _ *gocui.View) error {
	return u.move(-1)
}

func (u *UI) move(delta int) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewPages:
		u.selectedPage = clamp(u.selectedPage+delta, len(u.pageSet))
	case viewDetails:
		if task := u.selectedTask(); task != nil {
			u.selectedSubtask = clamp(u.selectedSubtask+delta, len(task.Subtasks))
		}
	default:
		u.selected[u.focus] = clamp(u.selected[u.focus]+delta, len(u.columns[statusForView(u.focus)]))
		u.selectedSubtask = 0
	}
	return nil
}

func (u *UI) reload(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.status = ""
	u.tasks.ClearError()
	if selected, ok := u.pages.Selected(); ok {
		if err := u.tasks.Reload(u.ctx, selected.ID); err != nil {
			u.status = err.Error()
		}
	}
	u.refresh()
	return nil
}

func (u *UI) startSearch(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.searchActive = true
	return nil
}

func (u *UI) clearSearch(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	u.query = ""
	u.refresh()
	return nil
}

func (u *UI) showSearch(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(30, maxX/2)
	height := 2
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewSearch, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Search"
		view.Clear()
		fmt.Fprint(view, u.query)
	}
	view.Editable = true
	view.Editor = gocui.DefaultEditor
	_, _ = gui.SetCurrentView(viewSearch)
	return nil
}

func (u *UI) submitSearch(gui *gocui.Gui, view *gocui.View) error {
	u.query = strings.TrimSpace(view.Buffer())
	u.searchActive = false
	u.status = ""
	u.closeOverlay(gui, viewSearch)
	u.refresh()
	return nil
}

func (u *UI) cancelSearch(gui *gocui.Gui, _ *gocui.View) error {
	u.searchActive = false
	u.closeOverlay(gui, viewSearch)
	return nil
}

func (u *UI) toggleHelp(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() && !u.helpActive {
		return nil
	}
	u.helpActive = !u.helpActive
	return nil
}

func (u *UI) closeHelp(gui *gocui.Gui, _ *gocui.View) error {
	u.helpActive = false
	u.closeOverlay(gui, viewHelp)
	return nil
}

func (u *UI) showHelp(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := 20
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewHelp, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Title = "Help"
		view.Wrap = true
	}
	view.Clear()
	fmt.Fprint(view, helpText())
	_, _ = gui.SetCurrentView(viewHelp)
	return nil
}

func (u *UI) addTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	fields := buildFormFields(nil)
	if status := statusForView(u.focus); status != "" {
		fields[fieldStatus].Value = string(status)
	}
	u.form = &formState{fields: fields}
	return nil
}

func (u *UI) editTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	u.form = &formState{taskID: selected.ID, fields: buildFormFields(selected)}
	return nil
}

func (u *UI) showForm(gui *gocui.Gui) error {
	if u.form == nil {
		return nil
	}

	maxX, maxY := gui.Size()
	width := max(60, maxX/2)
	height := min(10, max(8, maxY/2))
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Wrap = true
	}
	view.Title = "New Task"
	if u.form.taskID != "" {
		view.Title = "Edit Task"
	}
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) submitForm(gui *gocui.Gui, _ *gocui.View) error {
	if u.form == nil {
		return nil
	}

	patch, err := parseFormFields(u.form.fields)
	if err != nil {
		u.status = err.Error()
		return nil
	}

	if u.form.taskID == "" {
		if _, err := u.tasks.AddTask(u.ctx, taskFromPatch(patch)); err != nil {
			u.status = err.Error()
			return nil
		}
	} else {
		if _, err := u.tasks.UpdateTask(u.ctx, u.form.taskID, patch); err != nil {
			u.status = err.Error()
			return nil
		}
	}

	u.form = nil
	u.status = ""
	u.tasks.ClearError()
	u.closeOverlay(gui, viewForm)
	u.refresh()
	return nil
}

func (u *UI) cancelForm(gui *gocui.Gui, _ *gocui.View) error {
	u.form = nil
	u.closeOverlay(gui, viewForm)
	return nil
}

func (u *UI) nextFormField(_ *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(_ *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, field.Value)
	}
	current := u.form.fields[u.form.index]
	cursorX := len([]rune(current.Label+": ")) + len([]rune(current.Value)) + 2
	view.SetCursor(cursorX, u.form.index)
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if field.cycle != nil {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			field.Value = cycleValue(field.cycle, field.Value, 1)
		case gocui.KeyArrowLeft:
			field.Value = cycleValue(field.cycle, field.Value, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}

func (u *UI) deleteTask(gui *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	switch u.focus {
	case viewPages:
		return u.deletePage(gui, nil)
	case viewDetails:
		return u.removeSubtask(gui, nil)
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	if err := u.tasks.DeleteTask(u.ctx, selected.ID); err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	u.refresh()
	return nil
}

func (u *UI) cycleStatus(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	return u.changeStatus(*selected, model.NextStatus(selected.Status))
}

func (u *UI) completeTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	selected := u.selectedTask()
	if selected == nil {
		return nil
	}
	next := model.StatusCompleted
	if selected.Status == model.StatusCompleted {
		next = model.StatusNotStarted
	}
	return u.changeStatus(*selected, next)
}

func (u *UI) changeStatus(task model.Task, status model.Status) error {
	if _, err := u.tasks.ChangeTaskStatus(u.ctx, task.ID, status); err != nil {
		u.status = err.Error()
		return nil
	}
	u.status = ""
	u.refresh()
	return nil
}

func (u *UI) toggleSubtask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task := u.selectedTask()
	if task == nil || u.selectedSubtask >= len(task.Subtasks) {
		return nil
	}
	if _, err := u.tasks.ToggleSubtask(u.ctx, task.ID, task.Subtasks[u.selectedSubtask].ID); err != nil {
		u.status = err.Error()
		return nil
	}
	u.refresh()
	return nil
}

func (u *UI) removeSubtask(_ *gocui.Gui, _ *gocui.View) error {
	task := u.selectedTask()
	if task == nil || u.selectedSubtask >= len(task.Subtasks) {
		return nil
	}
	if _, err := u.tasks.RemoveSubtask(u.ctx, task.ID, task.Subtasks[u.selectedSubtask].ID); err != nil {
		u.status = err.Error()
		return nil
	}
	u.refresh()
	return nil
}

func (u *UI) selectPage(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.selectedPage >= len(u.pageSet) {
		return nil
	}
	target := u.pageSet[u.selectedPage]
	u.tasks.ClearError()
	u.pages.SetSelectedPage(u.ctx, &target)
	for name := range u.selected {
		u.selected[name] = 0
	}
	u.status = ""
	u.refresh()
	return nil
}

func (u *UI) deletePage(_ *gocui.Gui, _ *gocui.View) error {
	if u.selectedPage >= len(u.pageSet) {
		return nil
	}
	if err := u.pages.DeletePage(u.ctx, u.pageSet[u.selectedPage].ID); err != nil {
		u.status = err.Error()
		return nil
	}
	u.refresh()
	return nil
}

func (u *UI) openPagePrompt(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	kind := promptPage
	u.prompt = &kind
	return nil
}

func (u *UI) openSubtaskPrompt(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || u.selectedTask() == nil {
		return nil
	}
	kind := promptSubtask
	u.prompt = &kind
	return nil
}

func (u *UI) showPrompt(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := max(40, maxX/3)
	height := 2
	x0 := (maxX - width) / 2
	y0 := (maxY - height) / 2

	view, err := gui.SetView(viewPrompt, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		view.Clear()
	}
	view.Title = "New Page"
	if *u.prompt == promptSubtask {
		view.Title = "New Subtask"
	}
	view.Editable = true
	view.Editor = gocui.DefaultEditor
	_, _ = gui.SetCurrentView(viewPrompt)
	return nil
}

func (u *UI) submitPrompt(gui *gocui.Gui, view *gocui.View) error {
	if u.prompt == nil {
		return nil
	}
	if err := u.applyPrompt(strings.TrimSpace(view.Buffer())); err != nil {
		u.status = err.Error()
		return nil
	}
	return u.cancelPrompt(gui, view)
}

// applyPrompt creates the page or subtask named by value. Blank input is
// ignored.
func (u *UI) applyPrompt(value string) error {
	if u.prompt == nil || value == "" {
		return nil
	}
	switch *u.prompt {
	case promptPage:
		if _, err := u.pages.AddPage(u.ctx, value); err != nil {
			return err
		}
	case promptSubtask:
		task := u.selectedTask()
		if task == nil {
			return nil
		}
		if _, err := u.tasks.AddSubtask(u.ctx, task.ID, value); err != nil {
			return err
		}
	}
	u.status = ""
	u.refresh()
	return nil
}

func (u *UI) cancelPrompt(gui *gocui.Gui, _ *gocui.View) error {
	u.prompt = nil
	u.closeOverlay(gui, viewPrompt)
	return nil
}

func (u *UI) closeOverlay(gui *gocui.Gui, name string) {
	if gui == nil {
		return
	}
	_ = gui.DeleteView(name)
	_, _ = gui.SetCurrentView(u.focus)
}

func (u *UI) inputActive() bool {
	return u.searchActive || u.form != nil || u.helpActive || u.prompt != nil
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func statusForView(name string) model.Status {
	for _, column := range columnViews {
		if column.name == name {
			return column.status
		}
	}
	return ""
}

func clamp(index, length int) int {
	if length <= 0 || index < 0 {
		return 0
	}
	return min(index, length-1)
}

func helpText() string {
	return strings.Join([]string{
		"Navigation:",
		"  Tab cycle panes | 1 Pages | 2-5 status columns | 6 Details",
		"  j/k or arrows move selection",
		"  mouse click to focus/select, wheel scrolls hovered pane",
		"",
		"Tasks:",
		"  a add | e/enter edit | d delete | x next status | c toggle complete",
		"  tab next field | space/left/right cycle status or priority (form)",
		"",
		"Subtasks (Details pane):",
		"  s add | space/enter toggle | d remove",
		"",
		"Pages:",
		"  p new page | enter/space select | d delete (Pages pane)",
		"",
		"Other:",
		"  / search | g clear search | r reload | ? help | esc/q close help | q quit",
	}, "\n")
}

func applyViewStyle(view *gocui.View, focused bool, highlight bool) {
	view.Frame = true
	view.Highlight = focused && highlight
	view.HighlightInactive = false
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	view.InactiveViewSelBgColor = gocui.ColorDefault
	if focused {
		view.FrameColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}
