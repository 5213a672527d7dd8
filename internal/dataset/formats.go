package dataset

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fyerfyer/paper-dataset/internal/database"
	"github.com/fyerfyer/paper-dataset/internal/models"
	"github.com/fyerfyer/paper-dataset/internal/repository"
	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
	"gorm.io/datatypes"
)

// ParquetTurn parquet中的一轮发言
type ParquetTurn struct {
	Speaker string `parquet:"speaker"`
	Text    string `parquet:"text"`
}

// ParquetRow parquet中的一行，对应一个样本
type ParquetRow struct {
	SampleID     string        `parquet:"sample_id"`
	ChunkIndex   int64         `parquet:"chunk_index"`
	SampleIndex  int64         `parquet:"sample_index"`
	SectionTitle string        `parquet:"section_title"`
	Model        string        `parquet:"model"`
	Turns        []ParquetTurn `parquet:"turns,list"`
}

func encodeParquet(_ context.Context, path string, samples []models.SynthesizedSample) error {
	rows := make([]ParquetRow, 0, len(samples))
	for _, s := range samples {
		row := ParquetRow{
			SampleID:     SampleID(s),
			ChunkIndex:   int64(s.ChunkIndex),
			SampleIndex:  int64(s.SampleIndex),
			SectionTitle: s.SectionTitle,
			Model:        s.Model,
			Turns:        make([]ParquetTurn, 0, len(s.Turns)),
		}
		for _, t := range s.Turns {
			row.Turns = append(row.Turns, ParquetTurn{Speaker: string(t.Speaker), Text: t.Text})
		}
		rows = append(rows, row)
	}
	return parquet.WriteFile(path, rows)
}

func encodeJSONL(_ context.Context, path string, samples []models.SynthesizedSample) error {
	return writeFile(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		for _, s := range samples {
			if err := enc.Encode(s); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadJSONL 读取jsonl导出
func ReadJSONL(r io.Reader) ([]models.SynthesizedSample, error) {
	dec := json.NewDecoder(r)
	var samples []models.SynthesizedSample
	for {
		var s models.SynthesizedSample
		err := dec.Decode(&s)
		if errors.Is(err, io.EOF) {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode sample %d: %w", len(samples)+1, err)
		}
		samples = append(samples, s)
	}
}

var turnColumns = []string{"sample_id", "chunk_index", "sample_index", "turn_index", "speaker", "text"}

func encodeCSV(_ context.Context, path string, samples []models.SynthesizedSample) error {
	return writeFile(path, func(w io.Writer) error {
		cw := csv.NewWriter(w)
		if err := cw.Write(turnColumns); err != nil {
			return err
		}
		for _, s := range samples {
			id := SampleID(s)
			for i, t := range s.Turns {
				record := []string{
					id,
					strconv.Itoa(s.ChunkIndex),
					strconv.Itoa(s.SampleIndex),
					strconv.Itoa(i),
					string(t.Speaker),
					t.Text,
				}
				if err := cw.Write(record); err != nil {
					return err
				}
			}
		}
		cw.Flush()
		return cw.Error()
	})
}

const xlsxSheet = "turns"

func encodeXLSX(_ context.Context, path string, samples []models.SynthesizedSample) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return err
	}

	header := make([]interface{}, len(turnColumns))
	for i, c := range turnColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return err
	}

	row := 2
	for _, s := range samples {
		id := SampleID(s)
		for i, t := range s.Turns {
			cell, err := excelize.CoordinatesToCellName(1, row)
			if err != nil {
				return err
			}
			values := []interface{}{id, s.ChunkIndex, s.SampleIndex, i, string(t.Speaker), t.Text}
			if err := f.SetSheetRow(xlsxSheet, cell, &values); err != nil {
				return err
			}
			row++
		}
	}

	return writeFile(path, func(w io.Writer) error {
		return f.Write(w)
	})
}

func encodeSQLite(ctx context.Context, path string, samples []models.SynthesizedSample, log *logrus.Logger) error {
	cfg := database.DefaultConfig()
	cfg.DSN = path

	db, err := database.Open(cfg, log)
	if err != nil {
		return err
	}
	defer database.Close(db)

	records := make([]*models.SampleRecord, 0, len(samples))
	for _, s := range samples {
		conversation, err := json.Marshal(s.Turns)
		if err != nil {
			return err
		}
		id := SampleID(s)
		rec := &models.SampleRecord{
			SampleID:     id,
			ChunkIndex:   s.ChunkIndex,
			SampleIndex:  s.SampleIndex,
			SectionTitle: s.SectionTitle,
			Model:        s.Model,
			Conversation: datatypes.JSON(conversation),
		}
		for i, t := range s.Turns {
			rec.Turns = append(rec.Turns, models.TurnRecord{SampleID: id, TurnIndex: i, Speaker: t.Speaker, Text: t.Text})
		}
		records = append(records, rec)
	}

	return repository.NewSampleRepository(db).SaveSamples(ctx, records)
}
