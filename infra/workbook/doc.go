// Package workbook reads the spreadsheet inputs of a simulation and writes
// its result workbooks.
//
// Inputs are a station workbook (Cluster<i>, Capacity<i>, Price and an
// optional station wide Capacity sheet), a fleet workbook (Fleet sheet)
// and the PDF workbooks of the scenario generator. Times are read either as
// Excel serial dates or as text in one of the layouts accepted by parseTime.
package workbook
