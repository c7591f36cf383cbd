package parser

var titleSelectors = []string{
	"#productTitle",
	"span.VU-ZEz",
	"span.B_NuCI",
	"h1.pdp-title",
	"h1",
}

var priceSelectors = []string{
	".a-price .a-offscreen",
	".a-price-whole",
	"#priceblock_ourprice",
	"#priceblock_dealprice",
	"div.Nx9bqj",
	"div._30jeq3",
	"span.pdp-price",
	"[itemprop=price]",
}

var mrpSelectors = []string{
	".a-price.a-text-price .a-offscreen",
	"span.a-price-was",
	"div.yRaY8j",
	"div._3I9_wc",
	"span.pdp-mrp",
}

var descriptionSelectors = []string{
	"#feature-bullets",
	"#productDescription",
	"#legal_disclaimer_description",
	"div._1mXcCf",
	"div.pdp-product-description-content",
}

var breadcrumbSelectors = []string{
	"#wayfinding-breadcrumbs_feature_div .a-list-item a",
	"nav[aria-label=breadcrumb] a",
	".breadcrumb a",
	"div._7dPnhA a",
}

var detailTableSelectors = []string{
	"#productDetails_techSpec_section_1",
	"#productDetails_detailBullets_sections1",
	"#productDetails_db_sections",
	"#product-details-grid_feature_div",
	"table.product-details",
	"div._3Fm-hO table",
}

var imageAttrs = []string{
	"data-old-hires",
	"data-a-image-source",
	"data-src",
	"src",
}
