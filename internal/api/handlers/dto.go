// dto.go — JSON-представления ресурсов API и конвертация из domain моделей.
package handlers

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/acervo-module/internal/domain/model"
)

const bytesPerGB = 1 << 30

func toGB(b int64) float64 {
	return math.Round(float64(b)/bytesPerGB*1000) / 1000
}

func fromGB(gb float64) int64 {
	return int64(math.Round(gb * bytesPerGB))
}

type volumeDTO struct {
	ID              int64     `json:"id"`
	Nome            string    `json:"nome"`
	CaminhoMontagem string    `json:"caminho_montagem"`
	CapacidadeBytes int64     `json:"capacidade_bytes"`
	UsadoBytes      int64     `json:"usado_bytes"`
	CapacidadeGB    float64   `json:"capacidade_gb"`
	UsadoGB         float64   `json:"usado_gb"`
	LivreGB         float64   `json:"livre_gb"`
	Ativo           bool      `json:"ativo"`
	CriadoEm        time.Time `json:"criado_em"`
	AtualizadoEm    time.Time `json:"atualizado_em"`
}

func toVolumeDTO(v *model.Volume) volumeDTO {
	return volumeDTO{
		ID:              v.ID,
		Nome:            v.Name,
		CaminhoMontagem: v.MountPath,
		CapacidadeBytes: v.CapacityBytes,
		UsadoBytes:      v.UsedBytes,
		CapacidadeGB:    toGB(v.CapacityBytes),
		UsadoGB:         toGB(v.UsedBytes),
		LivreGB:         toGB(v.FreeBytes()),
		Ativo:           v.Active,
		CriadoEm:        v.CreatedAt,
		AtualizadoEm:    v.UpdatedAt,
	}
}

type volumeListDTO struct {
	Volumes []volumeDTO `json:"volumes"`
	Total   int         `json:"total"`
}

func toVolumeList(items []*model.Volume, total int) volumeListDTO {
	resp := volumeListDTO{Volumes: make([]volumeDTO, 0, len(items)), Total: total}
	for _, v := range items {
		resp.Volumes = append(resp.Volumes, toVolumeDTO(v))
	}
	return resp
}

type productDTO struct {
	ID           int64     `json:"id"`
	MI           string    `json:"mi"`
	Inom         string    `json:"inom,omitempty"`
	Nome         string    `json:"nome,omitempty"`
	TipoProduto  string    `json:"tipo_produto"`
	Escala       string    `json:"escala,omitempty"`
	VersionStamp int64     `json:"version_stamp"`
	Extent       []float64 `json:"extent"`
	CriadoEm     time.Time `json:"criado_em"`
	AtualizadoEm time.Time `json:"atualizado_em"`
}

func toProductDTO(p *model.Product) productDTO {
	dto := productDTO{
		ID:           p.ID,
		MI:           p.MI,
		Inom:         p.Inom,
		Nome:         p.Nome,
		TipoProduto:  p.TipoProduto,
		Escala:       p.Escala,
		VersionStamp: p.VersionStamp,
		CriadoEm:     p.CreatedAt,
		AtualizadoEm: p.UpdatedAt,
	}
	if p.HasExtent {
		dto.Extent = []float64{p.Extent.Min.Lon(), p.Extent.Min.Lat(), p.Extent.Max.Lon(), p.Extent.Max.Lat()}
	}
	return dto
}

type versionDTO struct {
	ID            int64     `json:"id"`
	ProdutoID     int64     `json:"produto_id"`
	Versao        string    `json:"versao"`
	TipoVersao    string    `json:"tipo_versao,omitempty"`
	OrgaoProdutor string    `json:"orgao_produtor,omitempty"`
	Usuario       string    `json:"usuario,omitempty"`
	CriadoEm      time.Time `json:"criado_em"`
}

func toVersionDTO(v *model.Version) versionDTO {
	return versionDTO{
		ID:            v.ID,
		ProdutoID:     v.ProductID,
		Versao:        v.Versao,
		TipoVersao:    v.TipoVersao,
		OrgaoProdutor: v.OrgaoProdutor,
		Usuario:       v.Usuario,
		CriadoEm:      v.CreatedAt,
	}
}

type deletionDTO struct {
	Motivo string    `json:"motivo"`
	Em     time.Time `json:"em"`
	Por    string    `json:"por"`
}

type fileDTO struct {
	ID           int64        `json:"id"`
	VersaoID     int64        `json:"versao_id"`
	VolumeID     int64        `json:"volume_id"`
	Nome         string       `json:"nome"`
	Extensao     string       `json:"extensao"`
	Caminho      string       `json:"caminho"`
	TamanhoBytes int64        `json:"tamanho_bytes"`
	TamanhoMB    float64      `json:"tamanho_mb"`
	Checksum     string       `json:"checksum"`
	Status       string       `json:"status"`
	MotivoFalha  string       `json:"motivo_falha,omitempty"`
	Apagado      *deletionDTO `json:"apagado,omitempty"`
	Usuario      string       `json:"usuario,omitempty"`
	CriadoEm     time.Time    `json:"criado_em"`
	ConcluidoEm  *time.Time   `json:"concluido_em,omitempty"`
	ProdutoMI    string       `json:"produto_mi,omitempty"`
	Versao       string       `json:"versao,omitempty"`
}

func toFileDTO(f *model.File) fileDTO {
	dto := fileDTO{
		ID:           f.ID,
		VersaoID:     f.VersionID,
		VolumeID:     f.VolumeID,
		Nome:         f.Nome,
		Extensao:     f.Extensao,
		Caminho:      f.RelativePath,
		TamanhoBytes: f.SizeBytes,
		TamanhoMB:    math.Round(f.SizeMB()*100) / 100,
		Checksum:     f.Checksum,
		Status:       string(f.Status),
		Usuario:      f.Usuario,
		CriadoEm:     f.CreatedAt,
		ConcluidoEm:  f.CompletedAt,
	}
	if f.Failure != nil {
		dto.MotivoFalha = f.Failure.Reason
	}
	if f.Deletion != nil {
		dto.Apagado = &deletionDTO{Motivo: f.Deletion.Reason, Em: f.Deletion.At, Por: f.Deletion.By}
	}
	return dto
}

type fileListDTO struct {
	Arquivos []fileDTO `json:"arquivos"`
	Total    int       `json:"total"`
	Limit    int       `json:"limit"`
	Offset   int       `json:"offset"`
}

type downloadDTO struct {
	ID             uuid.UUID `json:"id"`
	ArquivoID      int64     `json:"arquivo_id"`
	Usuario        string    `json:"usuario"`
	BaixadoEm      time.Time `json:"baixado_em"`
	ArquivoApagado bool      `json:"arquivo_apagado"`
}

func toDownloadDTO(d *model.DownloadRecord) downloadDTO {
	return downloadDTO{
		ID:             d.ID,
		ArquivoID:      d.FileID,
		Usuario:        d.Usuario,
		BaixadoEm:      d.DownloadedAt,
		ArquivoApagado: d.FileDeleted,
	}
}

type pathDTO struct {
	ArquivoID int64  `json:"arquivo_id"`
	VolumeID  int64  `json:"volume_id"`
	Caminho   string `json:"caminho"`
	Apagado   bool   `json:"apagado"`
}

type dayCountDTO struct {
	Dia   string `json:"dia"`
	Total int    `json:"total"`
}

func toDaySeries(items []model.DayCount) []dayCountDTO {
	out := make([]dayCountDTO, 0, len(items))
	for _, it := range items {
		out = append(out, dayCountDTO{Dia: it.Day.UTC().Format(time.DateOnly), Total: it.Count})
	}
	return out
}
