// Package pdftest builds small AcroForm documents in memory so that tests
// do not depend on binary fixtures.
package pdftest

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// WidgetKind selects the field type written for a widget
type WidgetKind string

const (
	Text     WidgetKind = "text"
	Checkbox WidgetKind = "checkbox"
	Radio    WidgetKind = "radio"
)

// Widget is a merged field/widget annotation placed on a page
type Widget struct {
	Name string
	Kind WidgetKind
	Rect [4]float64

	// Value is the initial text of a text field.
	Value string
	// Checked sets the initial state of a checkbox.
	Checked bool
	// OnState names the checkbox on appearance. Defaults to "Yes".
	OnState string
	// Parent, when set, nests the widget under a non-terminal field of
	// that name; the field type is then inherited from the parent.
	Parent string
}

// Page describes one page of the generated document
type Page struct {
	Width   float64
	Height  float64
	Text    []string
	Widgets []Widget
}

func (p Page) size() (float64, float64) {
	w, h := p.Width, p.Height
	if w <= 0 {
		w = 612
	}
	if h <= 0 {
		h = 792
	}
	return w, h
}

func (w Widget) onState() string {
	if w.OnState != "" {
		return w.OnState
	}
	return "Yes"
}

// TextPage is a page with lines of text and no fields
func TextPage(lines ...string) Page {
	return Page{Text: lines}
}

// object numbers assigned before anything is written
type layout struct {
	catalog, pages, font, acroForm int
	page, content                  []int
	widget                         [][]int
	apOn, apOff                    map[string]int
	parent                         map[string]int
	parentOrder                    []string
	parentKids                     map[string][]int
	next                           int
}

func (l *layout) alloc() int {
	l.next++
	return l.next
}

// BuildForm renders pages into a complete PDF with a classic xref table.
// An AcroForm dictionary is written only when at least one widget exists.
func BuildForm(pages ...Page) []byte {
	if len(pages) == 0 {
		pages = []Page{{}}
	}

	l := &layout{
		apOn:       make(map[string]int),
		apOff:      make(map[string]int),
		parent:     make(map[string]int),
		parentKids: make(map[string][]int),
	}
	l.catalog = l.alloc()
	l.pages = l.alloc()
	l.font = l.alloc()

	hasWidgets := false
	for _, p := range pages {
		if len(p.Widgets) > 0 {
			hasWidgets = true
		}
	}
	if hasWidgets {
		l.acroForm = l.alloc()
	}

	l.widget = make([][]int, len(pages))
	for i, p := range pages {
		l.page = append(l.page, l.alloc())
		l.content = append(l.content, l.alloc())
		for _, w := range p.Widgets {
			num := l.alloc()
			l.widget[i] = append(l.widget[i], num)
			if w.Kind == Checkbox || w.Kind == Radio {
				key := strconv.Itoa(num)
				l.apOn[key] = l.alloc()
				l.apOff[key] = l.alloc()
			}
			if w.Parent != "" {
				if _, ok := l.parent[w.Parent]; !ok {
					l.parent[w.Parent] = l.alloc()
					l.parentOrder = append(l.parentOrder, w.Parent)
				}
				l.parentKids[w.Parent] = append(l.parentKids[w.Parent], num)
			}
		}
	}

	objects := make(map[int]string, l.next)

	catalog := fmt.Sprintf("<< /Type /Catalog /Pages %s", ref(l.pages))
	if hasWidgets {
		catalog += " /AcroForm " + ref(l.acroForm)
	}
	objects[l.catalog] = catalog + " >>"

	kids := make([]string, len(l.page))
	for i, num := range l.page {
		kids[i] = ref(num)
	}
	objects[l.pages] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(l.page))
	objects[l.font] = "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>"

	var fields []string
	for i, p := range pages {
		width, height := p.size()

		var annots []string
		for j, w := range p.Widgets {
			num := l.widget[i][j]
			annots = append(annots, ref(num))
			if w.Parent == "" {
				fields = append(fields, ref(num))
			}
			objects[num] = widgetDict(l, w, num, l.page[i])
			if w.Kind == Checkbox || w.Kind == Radio {
				key := strconv.Itoa(num)
				objects[l.apOn[key]] = stream(checkAppearance(w), fmt.Sprintf("/Type /XObject /Subtype /Form /BBox [0 0 %s %s]",
					num2s(w.Rect[2]-w.Rect[0]), num2s(w.Rect[3]-w.Rect[1])))
				objects[l.apOff[key]] = stream("", fmt.Sprintf("/Type /XObject /Subtype /Form /BBox [0 0 %s %s]",
					num2s(w.Rect[2]-w.Rect[0]), num2s(w.Rect[3]-w.Rect[1])))
			}
		}

		page := fmt.Sprintf("<< /Type /Page /Parent %s /MediaBox [0 0 %s %s] /Resources << /Font << /F1 %s >> >> /Contents %s",
			ref(l.pages), num2s(width), num2s(height), ref(l.font), ref(l.content[i]))
		if len(annots) > 0 {
			page += " /Annots [" + strings.Join(annots, " ") + "]"
		}
		objects[l.page[i]] = page + " >>"
		objects[l.content[i]] = stream(pageContent(p.Text, height), "")
	}

	for _, name := range l.parentOrder {
		num := l.parent[name]
		fields = append(fields, ref(num))
		kidRefs := make([]string, len(l.parentKids[name]))
		for i, k := range l.parentKids[name] {
			kidRefs[i] = ref(k)
		}
		objects[num] = fmt.Sprintf("<< /T %s /FT %s%s /Kids [%s] >>",
			pdfString(name), parentFieldType(pages, name), parentFlags(pages, name), strings.Join(kidRefs, " "))
	}

	if hasWidgets {
		objects[l.acroForm] = fmt.Sprintf("<< /Fields [%s] /DA (/Helv 0 Tf 0 g) /DR << /Font << /Helv %s >> >> >>",
			strings.Join(fields, " "), ref(l.font))
	}

	return serialize(objects, l.next, l.catalog)
}

func widgetDict(l *layout, w Widget, num, page int) string {
	var b strings.Builder
	b.WriteString("<< /Type /Annot /Subtype /Widget")
	fmt.Fprintf(&b, " /Rect [%s %s %s %s]", num2s(w.Rect[0]), num2s(w.Rect[1]), num2s(w.Rect[2]), num2s(w.Rect[3]))
	fmt.Fprintf(&b, " /P %s /F 4", ref(page))

	if w.Parent != "" {
		fmt.Fprintf(&b, " /Parent %s", ref(l.parent[w.Parent]))
	} else {
		b.WriteString(" /FT " + fieldType(w.Kind))
		b.WriteString(fieldFlags(w.Kind))
	}
	fmt.Fprintf(&b, " /T %s", pdfString(w.Name))

	switch w.Kind {
	case Checkbox, Radio:
		state := "Off"
		if w.Checked {
			state = w.onState()
		}
		key := strconv.Itoa(num)
		fmt.Fprintf(&b, " /V /%s /AS /%s /AP << /N << /%s %s /Off %s >> >> /MK << /CA (4) >>",
			state, state, w.onState(), ref(l.apOn[key]), ref(l.apOff[key]))
	default:
		b.WriteString(" /DA (/Helv 10 Tf 0 g)")
		if w.Value != "" {
			fmt.Fprintf(&b, " /V %s", pdfString(w.Value))
		}
	}
	b.WriteString(" >>")
	return b.String()
}

func fieldType(kind WidgetKind) string {
	switch kind {
	case Checkbox, Radio:
		return "/Btn"
	default:
		return "/Tx"
	}
}

func fieldFlags(kind WidgetKind) string {
	if kind == Radio {
		// Radio and NoToggleToOff
		return " /Ff 49152"
	}
	return ""
}

func parentFieldType(pages []Page, name string) string {
	for _, p := range pages {
		for _, w := range p.Widgets {
			if w.Parent == name {
				return fieldType(w.Kind)
			}
		}
	}
	return "/Tx"
}

func parentFlags(pages []Page, name string) string {
	for _, p := range pages {
		for _, w := range p.Widgets {
			if w.Parent == name {
				return fieldFlags(w.Kind)
			}
		}
	}
	return ""
}

func checkAppearance(w Widget) string {
	width := w.Rect[2] - w.Rect[0]
	height := w.Rect[3] - w.Rect[1]
	return fmt.Sprintf("0 g 2 2 %s %s re f", num2s(width-4), num2s(height-4))
}

func pageContent(lines []string, height float64) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("BT\n/F1 12 Tf\n")
	fmt.Fprintf(&b, "72 %s Td\n14 TL\n", num2s(height-72))
	for i, line := range lines {
		if i > 0 {
			b.WriteString("T*\n")
		}
		fmt.Fprintf(&b, "%s Tj\n", pdfString(line))
	}
	b.WriteString("ET")
	return b.String()
}

func stream(content, dict string) string {
	if dict != "" {
		dict += " "
	}
	return fmt.Sprintf("<< %s/Length %d >>\nstream\n%s\nendstream", dict, len(content), content)
}

func serialize(objects map[int]string, count, root int) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	nums := make([]int, 0, len(objects))
	for n := range objects {
		nums = append(nums, n)
	}
	sort.Ints(nums)

	offsets := make([]int, count+1)
	for _, n := range nums {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, objects[n])
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", count+1)
	buf.WriteString("0000000000 65535 f \n")
	for n := 1; n <= count; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root %s >>\nstartxref\n%d\n%%%%EOF\n", count+1, ref(root), xref)
	return buf.Bytes()
}

func ref(n int) string {
	return strconv.Itoa(n) + " 0 R"
}

func num2s(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

var pdfStringEscaper = strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)

func pdfString(s string) string {
	return "(" + pdfStringEscaper.Replace(s) + ")"
}
