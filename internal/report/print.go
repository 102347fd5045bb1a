package report

import (
	"html/template"
	"io"
)

// RenderPrint writes the print-layout HTML for a view.
func RenderPrint(w io.Writer, view View) error {
	return printTemplate.Execute(w, view)
}

// dataURI marks an evidence data URI as a safe image source; html/template
// would otherwise filter the data: scheme out of src attributes. The images
// are produced by our own compressor, never taken from user markup.
func dataURI(uri string) template.URL {
	return template.URL(uri)
}

var printTemplate = template.Must(template.New("print").Funcs(template.FuncMap{
	"dataURI": dataURI,
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
  body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #1e293b; margin: 0; }
  .sheet { max-width: 960px; margin: 0 auto; border: 1px solid #e2e8f0; }
  .header { background: #1e3a8a; color: #fff; padding: 12px 24px; display: flex; justify-content: space-between; align-items: center; }
  .header h1 { font-size: 18px; margin: 0; }
  .header .id { font-family: monospace; font-size: 11px; opacity: .7; }
  .grid { display: flex; border-bottom: 1px solid #e2e8f0; }
  .col { flex: 1; }
  .col:first-child { border-right: 1px solid #e2e8f0; }
  .row { display: flex; border-bottom: 1px solid #e2e8f0; }
  .row:last-child { border-bottom: 0; }
  .row .label { width: 38%; background: #1e3a8a; color: #fff; padding: 6px 10px; font-weight: bold; font-size: 11px; }
  .row .value { flex: 1; padding: 6px 10px; }
  .row .value.pass { color: #16a34a; font-weight: bold; }
  .row .value.fail { color: #dc2626; font-weight: bold; }
  .band { background: #3730a3; color: #fff; padding: 6px 24px; font-weight: bold; font-size: 13px; }
  table.compare { width: 100%; border-collapse: collapse; font-size: 11px; }
  table.compare th, table.compare td { border: 1px solid #e2e8f0; padding: 6px 10px; text-align: left; }
  table.compare th { background: #f8fafc; color: #475569; }
  .dot { width: 12px; height: 12px; border-radius: 50%; margin: 0 auto; }
  .dot.red { background: #ef4444; }
  .dot.green { background: #22c55e; }
  .gps { display: flex; gap: 24px; background: #f1f5f9; border-bottom: 1px solid #e2e8f0; padding: 10px 24px; font-family: monospace; font-size: 11px; }
  .gps .label { display: block; font-family: Helvetica, Arial, sans-serif; font-weight: bold; color: #64748b; font-size: 10px; }
  .photos { display: flex; flex-wrap: wrap; }
  .photo { width: 50%; box-sizing: border-box; border-right: 1px solid #e2e8f0; border-bottom: 1px solid #e2e8f0; }
  .photo .title { background: #f8fafc; padding: 5px 10px; font-weight: bold; font-size: 10px; color: #475569; text-transform: uppercase; border-bottom: 1px solid #e2e8f0; }
  .photo img { display: block; width: 100%; max-height: 320px; object-fit: contain; background: #f8fafc; }
  .photo .missing { height: 160px; display: flex; align-items: center; justify-content: center; color: #94a3b8; background: #f1f5f9; }
  .photo .meta { padding: 4px 10px; background: #f8fafc; font-family: monospace; font-size: 10px; color: #334155; }
  @media print { .sheet { border: 0; max-width: none; } }
</style>
</head>
<body>
<div class="sheet">
  <div class="header">
    <h1>{{.Title}}</h1>
    <span class="id">ID: {{.ID}}</span>
  </div>
  <div class="grid">
    <div class="col">
      {{range .LeftRows}}<div class="row"><div class="label">{{.Label}}</div><div class="value">{{.Value}}</div></div>
      {{end}}
    </div>
    <div class="col">
      {{range .RightRows}}<div class="row"><div class="label">{{.Label}}</div><div class="value{{if .Status}} {{.Value}}{{end}}">{{.Value}}</div></div>
      {{end}}
    </div>
  </div>
  <div class="band">{{.MapBand}}</div>
  <table class="compare">
    <thead>
      <tr><th>Description</th><th>Source</th><th>Distance</th><th>Location Resolution Logic</th><th>Legend</th></tr>
    </thead>
    <tbody>
      {{range .Comparison}}<tr>
        <td>{{.Description}}</td>
        <td>{{.Source}}</td>
        <td>{{.Distance}}</td>
        <td>{{.ResolutionLogic}}</td>
        <td><div class="dot {{.Legend}}"></div></td>
      </tr>
      {{end}}
    </tbody>
  </table>
  <div class="gps">
    <div><span class="label">Claimed Location (Geocoded)</span>{{.ClaimedPoint}}</div>
    <div><span class="label">GPS Captured Point</span>{{.CapturedPoint}}</div>
    <div><span class="label">Distance</span>{{printf "%.2f km" .DistanceKm}}</div>
  </div>
  <div class="band">{{.EvidenceBand}}</div>
  <div class="photos">
    {{range .Evidence}}<div class="photo">
      <div class="title">{{.Label}}</div>
      {{if .Image}}<img src="{{dataURI .Image}}" alt="{{.Label}}">{{else}}<div class="missing">No image provided</div>{{end}}
      <div class="meta">Time: {{.Timestamp}} &nbsp; GPS: {{.Location}}</div>
    </div>
    {{end}}
  </div>
</div>
</body>
</html>
`))
