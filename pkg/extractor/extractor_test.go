package extractor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amosWeiskopf/schemasmith/pkg/query"
	"github.com/amosWeiskopf/schemasmith/pkg/schema"
)

const productPage = `
<html><body>
  <div class="product">
    <h3><a href="/item/1">Widget</a></h3>
    <div class="price">$19.00</div>
    <span class="sku" data-id="W-1"></span>
    <script class="meta">{"rating": 4.5, "tags": ["new"]}</script>
    <ul class="reviews">
      <li><span class="author">ana</span><span class="stars">5</span></li>
      <li><span class="author">bo</span><span class="stars">3</span></li>
    </ul>
  </div>
  <div class="product">
    <h3><a href="/item/2">Gadget</a></h3>
    <div class="price">$7.25</div>
    <ul class="reviews">
      <li><span class="author">cy</span><span class="stars">4</span></li>
    </ul>
  </div>
</body></html>`

func mustParse(t *testing.T, markup string) *query.Document {
	t.Helper()
	doc, err := query.Parse(markup)
	require.NoError(t, err)
	return doc
}

func assemble(t *testing.T, markup string, s *schema.Schema, follow FollowFunc) []*schema.Record {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, s.Validate(reg))
	records, err := New(reg, follow).Assemble(mustParse(t, markup), s)
	require.NoError(t, err)
	return records
}

func TestAssembleScalars(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "name", Selector: "h3 > a", Type: schema.TypeText},
			{Name: "price", Selector: "div.price", Type: schema.TypeNumber, Preformat: []string{"strip_currency"}},
			{Name: "url", Selector: "h3 > a", Attribute: "href"},
		},
	}

	records := assemble(t, productPage, s, nil)
	require.Len(t, records, 2)

	assert.Equal(t, []string{"name", "price", "url"}, records[0].Keys())
	name, _ := records[0].Get("name")
	assert.Equal(t, "Widget", name)
	url, _ := records[0].Get("url")
	assert.Equal(t, "/item/1", url)

	// whole prices narrow to integers, fractional ones stay floats
	p0, _ := records[0].Get("price")
	assert.Equal(t, int64(19), p0)
	p1, _ := records[1].Get("price")
	assert.Equal(t, 7.25, p1)
}

func TestAssembleMissingNodeUsesDefault(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "name", Selector: "h3 > a"},
			// second product has no .sku node; the default must land verbatim,
			// untouched by the number cast
			{Name: "sku", Selector: "span.sku", Attribute: "data-id", Default: "n/a"},
			{Name: "color", Selector: "span.color"},
		},
	}

	records := assemble(t, productPage, s, nil)
	require.Len(t, records, 2)

	sku0, _ := records[0].Get("sku")
	assert.Equal(t, "W-1", sku0)

	sku1, _ := records[1].Get("sku")
	assert.Equal(t, "n/a", sku1)

	color, ok := records[0].Get("color")
	assert.True(t, ok)
	assert.Nil(t, color)
}

func TestAssembleJSONField(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "meta", Selector: "script.meta", Type: schema.TypeJSON, Default: map[string]any{}},
		},
	}

	records := assemble(t, productPage, s, nil)
	require.Len(t, records, 2)

	meta, _ := records[0].Get("meta")
	obj, ok := meta.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 4.5, obj["rating"])

	// second product has no script node
	meta1, _ := records[1].Get("meta")
	assert.Equal(t, map[string]any{}, meta1)
}

func TestAssembleUndefinedTypePassesThrough(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "raw", Selector: "div.price", Type: schema.TypeUndefined},
		},
	}

	records := assemble(t, productPage, s, nil)
	raw, _ := records[0].Get("raw")
	assert.Equal(t, "$19.00", raw)
}

func TestAssembleListSubFields(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{
				Name: "reviews", Selector: "ul.reviews > li", Type: schema.TypeList,
				SubFields: []schema.FieldSpec{
					{Name: "author", Selector: "span.author"},
					{Name: "stars", Selector: "span.stars", Type: schema.TypeNumber},
				},
			},
		},
	}

	records := assemble(t, productPage, s, nil)
	require.Len(t, records, 2)

	reviews, _ := records[0].Get("reviews")
	seq, ok := reviews.([]any)
	require.True(t, ok)
	require.Len(t, seq, 2)

	first, ok := seq[0].(*schema.Record)
	require.True(t, ok)
	assert.Equal(t, []string{"author", "stars"}, first.Keys())
	author, _ := first.Get("author")
	assert.Equal(t, "ana", author)
	stars, _ := first.Get("stars")
	assert.Equal(t, int64(5), stars)
}

func TestAssembleFlatListAndAggregates(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "authors", Selector: "ul.reviews span.author", Type: schema.TypeList},
			{Name: "review_count", Selector: "ul.reviews > li", Type: schema.TypeList, ListAggregate: "count"},
		},
	}

	records := assemble(t, productPage, s, nil)
	require.Len(t, records, 2)

	authors, _ := records[0].Get("authors")
	assert.Equal(t, []any{"ana", "bo"}, authors)

	count, _ := records[0].Get("review_count")
	assert.Equal(t, int64(2), count)
	count1, _ := records[1].Get("review_count")
	assert.Equal(t, int64(1), count1)
}

func TestAssembleFollowMergesAndDropsOwnName(t *testing.T) {
	detail := &schema.Schema{
		BaseSelector: "div.detail",
		Fields: []schema.FieldSpec{
			{Name: "brand", Selector: "span.brand"},
		},
	}
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "name", Selector: "h3 > a"},
			{Selector: "h3 > a", Attribute: "href", Follow: detail},
		},
	}

	var followed []string
	follow := func(url string, nested *schema.Schema) ([]*schema.Record, error) {
		followed = append(followed, url)
		r := schema.NewRecord()
		r.Set("brand", "Acme "+url)
		return []*schema.Record{r}, nil
	}

	records := assemble(t, productPage, s, follow)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"/item/1", "/item/2"}, followed)

	assert.Equal(t, []string{"name", "brand"}, records[0].Keys())
	brand, _ := records[0].Get("brand")
	assert.Equal(t, "Acme /item/1", brand)
}

func TestAssembleFollowErrorPropagates(t *testing.T) {
	boom := errors.New("fetch blew up")
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Selector: "h3 > a", Attribute: "href", Follow: &schema.Schema{
				BaseSelector: "div",
				Fields:       []schema.FieldSpec{{Name: "x", Selector: "p"}},
			}},
		},
	}

	reg := schema.NewRegistry()
	require.NoError(t, s.Validate(reg))
	asm := New(reg, func(string, *schema.Schema) ([]*schema.Record, error) {
		return nil, boom
	})
	_, err := asm.Assemble(mustParse(t, productPage), s)
	assert.ErrorIs(t, err, boom)
}

func TestAssembleCastFailure(t *testing.T) {
	base := schema.FieldSpec{Name: "price", Selector: "h3 > a", Type: schema.TypeNumber}

	t.Run("no default raises", func(t *testing.T) {
		s := &schema.Schema{BaseSelector: "div.product", Fields: []schema.FieldSpec{base}}
		reg := schema.NewRegistry()
		require.NoError(t, s.Validate(reg))
		_, err := New(reg, nil).Assemble(mustParse(t, productPage), s)
		require.Error(t, err)
		var ferr *FormatterError
		require.ErrorAs(t, err, &ferr)
		assert.Equal(t, "price", ferr.Field)
		assert.Equal(t, "cast", ferr.Stage)
	})

	t.Run("default substitutes", func(t *testing.T) {
		f := base
		f.Default = -1.0
		s := &schema.Schema{BaseSelector: "div.product", Fields: []schema.FieldSpec{f}}
		records := assemble(t, productPage, s, nil)
		price, _ := records[0].Get("price")
		assert.Equal(t, -1.0, price)
	})

	t.Run("on_error raise beats default", func(t *testing.T) {
		f := base
		f.Default = -1.0
		f.OnError = schema.OnErrorRaise
		s := &schema.Schema{BaseSelector: "div.product", Fields: []schema.FieldSpec{f}}
		reg := schema.NewRegistry()
		require.NoError(t, s.Validate(reg))
		_, err := New(reg, nil).Assemble(mustParse(t, productPage), s)
		assert.Error(t, err)
	})

	t.Run("on_error default without declared default yields nil", func(t *testing.T) {
		f := base
		f.OnError = schema.OnErrorDefault
		s := &schema.Schema{BaseSelector: "div.product", Fields: []schema.FieldSpec{f}}
		records := assemble(t, productPage, s, nil)
		price, ok := records[0].Get("price")
		assert.True(t, ok)
		assert.Nil(t, price)
	})
}

func TestAssemblePostformat(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.product",
		Fields: []schema.FieldSpec{
			{Name: "name", Selector: "h3 > a", Postformat: []string{"upper"}},
		},
	}
	records := assemble(t, productPage, s, nil)
	name, _ := records[0].Get("name")
	assert.Equal(t, "WIDGET", name)
}

func TestAssembleNoMatchesYieldsEmpty(t *testing.T) {
	s := &schema.Schema{
		BaseSelector: "div.missing",
		Fields:       []schema.FieldSpec{{Name: "x", Selector: "p"}},
	}
	records := assemble(t, productPage, s, nil)
	assert.Empty(t, records)
}
