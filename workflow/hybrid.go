package workflow

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/scenegen/types"
)

// hybrid 并发派发图像与模型分支，在场景装配前汇合。
// 图像失败不会取消模型分支；模型在窗口内拿到图像则以图像为主输入，
// 否则按文本生成，迟到的图像留给装配阶段作纹理参考。
func (x *execution) hybrid(ctx context.Context) bool {
	imageDone := make(chan struct{})
	var (
		wg               sync.WaitGroup
		imageOK, modelOK bool
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(imageDone)
		imageOK = x.do(ctx, StageImageGeneration, x.generateImage)
	}()
	go func() {
		defer wg.Done()
		modelOK = x.do(ctx, StageModelGeneration, func(ctx context.Context, sr *StageResult) error {
			img, err := x.awaitImage(ctx, imageDone, sr)
			if err != nil {
				return err
			}
			return x.generateModel(ctx, sr, img)
		})
	}()
	wg.Wait()

	if x.image.Usable() && !x.imageInput {
		x.logger.Info("late image attached as texture reference")
	}
	return imageOK && modelOK
}

// awaitImage 最多等待 HybridImageWindow；窗口到期返回 nil
func (x *execution) awaitImage(ctx context.Context, imageDone <-chan struct{}, sr *StageResult) (*types.Artifact, error) {
	window := x.e.cfg.HybridImageWindow
	select {
	case <-imageDone:
		if x.image.Usable() {
			return x.image, nil
		}
		x.logger.Debug("image branch failed, model continues from text")
		return nil, nil
	case <-x.e.deps.Clock.After(window):
		sr.Warnings = append(sr.Warnings, fmt.Sprintf("image not ready within %s, generating without it", window))
		x.logger.Info("hybrid image window elapsed", zap.Duration("window", window))
		return nil, nil
	case <-ctx.Done():
		return nil, runContextError(ctx)
	}
}
