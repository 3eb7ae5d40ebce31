package ingest

import (
	"strings"
	"testing"
)

const testPage = `<!DOCTYPE html>
<html>
<head><title>Tomato Nutrient Disorders</title></head>
<body>
<nav><a href="/">Home</a> <a href="/topics">Topics</a></nav>
<header>Site header banner text that must never appear in a section.</header>
<!-- tracking comment -->
<h2>Nitrogen Deficiency</h2>
<p>Lower leaves turn uniformly pale green to yellow, starting at the leaf tip
and progressing along the midrib. Growth slows and stems stay thin because
nitrogen is mobile and the plant salvages it from old tissue first.</p>
<h2>Stub</h2>
<p>Too short.</p>
<h2>Magnesium Deficiency</h2>
<p>Interveinal chlorosis on older leaves while the veins themselves stay
green. Common on sandy soils after heavy potassium applications, which
compete with magnesium at the root surface.</p>
<footer>Copyright footer</footer>
</body>
</html>`

func TestSectionHTML(t *testing.T) {
	title, sections, err := SectionHTML([]byte(testPage), "https://extension.edu/tomato", 80)
	if err != nil {
		t.Fatalf("SectionHTML() error = %v", err)
	}
	if title != "Tomato Nutrient Disorders" {
		t.Errorf("title = %q", title)
	}
	if len(sections) != 2 {
		t.Fatalf("len(sections) = %d, want 2: %+v", len(sections), sections)
	}
	if sections[0].Heading != "Nitrogen Deficiency" {
		t.Errorf("sections[0].Heading = %q", sections[0].Heading)
	}
	if sections[1].Heading != "Magnesium Deficiency" {
		t.Errorf("sections[1].Heading = %q", sections[1].Heading)
	}
	for _, sec := range sections {
		if strings.Contains(sec.Body, "banner") || strings.Contains(sec.Body, "Copyright") {
			t.Errorf("section %q contains boilerplate: %q", sec.Heading, sec.Body)
		}
		if strings.Contains(sec.Body, "tracking comment") {
			t.Errorf("section %q contains an HTML comment: %q", sec.Heading, sec.Body)
		}
	}
}

func TestSectionHTMLNoHeadings(t *testing.T) {
	page := `<html><head><title>Field Note</title></head><body>
<p>Potassium deficiency in maize shows as yellowing and necrosis along leaf
margins of the older leaves, moving inward as the deficiency progresses. The
midrib stays green much longer than the margin. Plants lodge easily because
stalk strength depends on potassium, and ears fill poorly at the tip. Tissue
testing at tasseling gives the most reliable confirmation before any
corrective application is planned for the following season.</p>
</body></html>`

	title, sections, err := SectionHTML([]byte(page), "https://extension.edu/maize", 80)
	if err != nil {
		t.Fatalf("SectionHTML() error = %v", err)
	}
	if title != "Field Note" {
		t.Errorf("title = %q", title)
	}
	if len(sections) != 1 {
		t.Fatalf("len(sections) = %d, want 1", len(sections))
	}
	if !strings.Contains(sections[0].Body, "Potassium deficiency") {
		t.Errorf("body = %q, missing article text", sections[0].Body)
	}
}

func TestSectionMarkdown(t *testing.T) {
	markdown := "Preamble text that is long enough to survive the section minimum and so " +
		"becomes its own heading-less preamble section in the output.\n" +
		"## Page 1\n" +
		"Phosphorus deficiency produces purpling on the undersides of leaves and " +
		"stunted early growth, most visible in cold soils where root uptake is slow.\n" +
		"## Page 2\n" +
		"short\n"

	sections := SectionMarkdown(markdown, 80)
	if len(sections) != 2 {
		t.Fatalf("len(sections) = %d, want 2: %+v", len(sections), sections)
	}
	if sections[0].Heading != "" {
		t.Errorf("preamble heading = %q, want empty", sections[0].Heading)
	}
	if sections[1].Heading != "Page 1" {
		t.Errorf("sections[1].Heading = %q, want %q", sections[1].Heading, "Page 1")
	}
	if !strings.Contains(sections[1].Body, "Phosphorus") {
		t.Errorf("sections[1].Body = %q", sections[1].Body)
	}
}

func TestExtractImages(t *testing.T) {
	page := `<html><body>
<img src="/img/chlorosis.jpg" alt="Interveinal chlorosis on an older tomato leaf">
<figure><img src="https://cdn.example.org/necrosis.png"><figcaption>Marginal necrosis, late stage</figcaption></figure>
<img src="/img/decor.png">
<img src="data:image/png;base64,AAAA" alt="inlined">
<img src="/img/chlorosis.jpg" alt="duplicate entry">
</body></html>`

	images := ExtractImages([]byte(page), "https://extension.edu/tomato/guide")
	if len(images) != 2 {
		t.Fatalf("len(images) = %d, want 2: %+v", len(images), images)
	}
	if images[0].URL != "https://extension.edu/img/chlorosis.jpg" {
		t.Errorf("images[0].URL = %q", images[0].URL)
	}
	if images[0].Caption != "Interveinal chlorosis on an older tomato leaf" {
		t.Errorf("images[0].Caption = %q", images[0].Caption)
	}
	if images[1].Caption != "Marginal necrosis, late stage" {
		t.Errorf("images[1].Caption = %q", images[1].Caption)
	}
}
