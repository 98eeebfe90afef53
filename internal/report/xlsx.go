// Package report exports computed analytics snapshots as XLSX workbooks for
// download from the dashboard.
package report

import (
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crmboard/internal/analytics"
)

// WriteXLSX writes one workbook with a sheet per stat bucket: period
// windows, daily breakdown, vendors and personas.
func WriteXLSX(a *analytics.Analytics, path string) error {
	f := xlsx.NewFile()

	if err := addPeriodSheet(f, a); err != nil {
		return err
	}
	if err := addDailySheet(f, a); err != nil {
		return err
	}
	if err := addDimensionSheet(f, "Vendedores", a.Vendors); err != nil {
		return err
	}
	if err := addDimensionSheet(f, "Personas", a.Personas); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addPeriodSheet(f *xlsx.File, a *analytics.Analytics) error {
	sheet, err := f.AddSheet("Períodos")
	if err != nil {
		return eris.Wrap(err, "report: add period sheet")
	}
	addRow(sheet, "Janela (dias)", "Leads", "Vendas", "Valor", "Conversão")
	for _, ps := range []analytics.PeriodStats{a.Day, a.Week, a.Fortnight} {
		addRow(sheet,
			strconv.Itoa(ps.WindowDays),
			strconv.Itoa(ps.TotalLeads),
			strconv.Itoa(ps.Sales),
			ps.SalesValueFmt,
			ps.ConversionRate,
		)
	}
	return nil
}

func addDailySheet(f *xlsx.File, a *analytics.Analytics) error {
	sheet, err := f.AddSheet("Diário")
	if err != nil {
		return eris.Wrap(err, "report: add daily sheet")
	}
	addRow(sheet, "Data", "Leads", "Novos", "Interações", "Propostas", "Vendas", "Valor")

	days := make([]string, 0, len(a.Daily))
	for day := range a.Daily {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		ds := a.Daily[day]
		addRow(sheet,
			ds.Date,
			strconv.Itoa(ds.TotalLeads),
			strconv.Itoa(ds.NewLeads),
			strconv.Itoa(ds.Interactions),
			strconv.Itoa(ds.Proposals),
			strconv.Itoa(ds.Sales),
			ds.SalesValueFmt,
		)
	}
	return nil
}

func addDimensionSheet(f *xlsx.File, name string, groups map[string]*analytics.DimensionStats) error {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add %s sheet", name)
	}
	addRow(sheet, "Nome", "Leads", "Propostas", "Vendas", "Valor", "Conversão", "Taxa de Proposta")

	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		g := groups[n]
		addRow(sheet,
			g.Name,
			strconv.Itoa(g.TotalLeads),
			strconv.Itoa(g.Proposals),
			strconv.Itoa(g.Sales),
			g.SalesValueFmt,
			g.ConversionRate,
			g.ProposalRate,
		)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
